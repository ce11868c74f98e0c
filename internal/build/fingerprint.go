package build

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skippedDirs are never part of a context fingerprint. They are either
// VCS metadata or build output that would make fingerprints unstable.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

// Fingerprint computes the deterministic content hash of a build target's
// inputs: every file under contextDir (lexical walk order), the dockerfile,
// and the entrypoint override. Two targets with identical inputs always get
// the same fingerprint, so cache hits are exactly the unchanged targets.
func Fingerprint(contextDir, dockerfilePath string, entrypoint []string) (string, error) {
	h := sha256.New()

	err := filepath.WalkDir(contextDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(contextDir, path)
		if err != nil {
			return err
		}
		// Path separator normalized so fingerprints agree across platforms.
		fmt.Fprintf(h, "file\x00%s\x00", filepath.ToSlash(rel))
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return err
		}
		fmt.Fprint(h, "\x00")
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to digest context %s: %w", contextDir, err)
	}

	dockerfile, err := os.ReadFile(dockerfilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read dockerfile %s: %w", dockerfilePath, err)
	}
	fmt.Fprintf(h, "dockerfile\x00")
	h.Write(dockerfile)

	fmt.Fprintf(h, "\x00entrypoint\x00%s", strings.Join(entrypoint, "\x00"))

	return hex.EncodeToString(h.Sum(nil)), nil
}
