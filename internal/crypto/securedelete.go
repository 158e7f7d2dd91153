package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

// overwritePasses is the number of random overwrite passes before unlink.
const overwritePasses = 3

// SecureDelete overwrites the file at path with random data for a fixed
// number of passes, syncs each pass, then removes it. Used for anything
// leaving retention: plaintext temp files, expired quarantine entries.
// Deleting a file that does not exist is not an error.
func SecureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat before secure delete: %w", err)
	}
	size := info.Size()

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening for overwrite: %w", err)
	}

	for pass := 0; pass < overwritePasses; pass++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("seeking pass %d: %w", pass+1, err)
		}
		if _, err := io.CopyN(f, rand.Reader, size); err != nil {
			f.Close()
			return fmt.Errorf("overwrite pass %d: %w", pass+1, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("syncing pass %d: %w", pass+1, err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing after overwrite: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}
