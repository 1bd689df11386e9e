package layout

type T struct {
	A    int8
	B, C int
	D    int32
}

type Bytes [4]byte

type Node struct {
	Value int
	Next  *Node
}

type Record struct {
	Name  string
	Items []uint16
	Flag  bool
}

type Adder interface {
	Add(i int) int
}

type Pair[K comparable, V any] struct {
	Key   K
	Value V
}
