package transfer

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveCollision returns a path under dir that does not currently exist,
// starting from filename and, on collision, inserting " (n)" before the
// extension — "photo.jpg" -> "photo (1).jpg" -> "photo (2).jpg" — per the
// external interface's download-directory collision policy.
func resolveCollision(dir, filename string) (string, error) {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	candidate := filepath.Join(dir, base)
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("transfer: stat %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if n > 10000 {
			return "", fmt.Errorf("transfer: too many collisions resolving %s", filename)
		}
	}
}
