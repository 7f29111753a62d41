package memreader

import (
	"os"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessVM_ReadSelf(t *testing.T) {
	payload := []byte("hello from the other side\x00")
	addr := uintptr(unsafe.Pointer(&payload[0]))

	s, err := New(NewProcessVM()).ReadCString(os.Getpid(), addr)
	if err != nil {
		t.Skipf("process_vm_readv on self not permitted: %v", err)
	}
	assert.Equal(t, "hello from the other side", s)

	argv := []*byte{&payload[0], &payload[6], nil}
	got, err := New(NewProcessVM()).ReadStringArray(os.Getpid(), uintptr(unsafe.Pointer(&argv[0])))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello from the other side", "from the other side"}, got)
	runtime.KeepAlive(payload)
	runtime.KeepAlive(argv)
}

func TestProcessVM_Fault(t *testing.T) {
	_, err := NewProcessVM().ReadAt(os.Getpid(), 0x10, make([]byte, 8))
	assert.Error(t, err)
}
