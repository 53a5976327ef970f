// Copyright 2025, the Conseq contributors.

package utils

import (
	"io"
	"log"
	"os"
	"path"
)

// SetupLog creates a logger writing to {name}.log in the given
// directory, creating the directory if needed.
func SetupLog(logDir, name string) (*log.Logger, error) {

	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		return nil, err
	}

	logname := path.Join(logDir, name+".log")
	fid, err := os.Create(logname)
	if err != nil {
		return nil, err
	}

	return log.New(fid, "", log.Ltime), nil
}

// Progress writes a short status line for the user to stderr.
func Progress(msg string) {
	io.WriteString(os.Stderr, msg+"\n")
}
