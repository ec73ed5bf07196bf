package object

// base supplies the defaults a value type embeds: no attributes,
// truthy, and no participation in the reference count protocol.
type base struct{}

func (b *base) GetAttr(name string) (Object, bool) {
	return nil, false
}

func (b *base) SetAttr(name string, value Object) error {
	return TypeErrorf("type error: object has no attribute %q", name)
}

func (b *base) IsTruthy() bool {
	return true
}
