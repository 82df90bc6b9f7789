package mem

import (
	"testing"

	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/storage/storagetest"
)

func TestImpl(t *testing.T) {
	var _ storage.Storage = &Storage{}
}

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return NewStorage()
	})
}
