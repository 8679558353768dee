package pippin

import "testing"

func TestMemoryStoreContract(t *testing.T) {
	testStoreContract(t, func() Store { return NewMemoryStore() })
}
