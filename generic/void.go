package generic

// Void is a zero-size placeholder value, e.g. for set members or results with no value.
type Void = struct{}

func NewVoid() Void {
	return Void{}
}
