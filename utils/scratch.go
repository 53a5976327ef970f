// Copyright 2025, the Conseq contributors.

package utils

import (
	"os"
	"path"

	"github.com/google/uuid"
)

// MakeScratch creates a uniquely-named scratch directory under root.
// If root is blank the directory is placed under conseq_tmp in the
// working directory.
func MakeScratch(root, prefix string) (string, error) {

	xuid, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}

	if root == "" {
		root = "conseq_tmp"
	}
	dir := path.Join(root, prefix+"_"+xuid.String())
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}

	return dir, nil
}

// MissingInputError indicates that a caller-supplied input file does
// not exist.  It is raised before any external process is spawned.
type MissingInputError struct {
	Path string
}

func (e *MissingInputError) Error() string {
	return "missing input file: " + e.Path
}

// CheckInputs confirms that every given path exists.
func CheckInputs(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return &MissingInputError{Path: p}
		}
	}
	return nil
}
