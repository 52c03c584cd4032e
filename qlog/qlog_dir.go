package qlog

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/logging"
)

// DefaultConnectionTracer creates a qlog file in the qlog directory specified
// by the QLOGDIR environment variable. File names are
// <odcid>_<perspective>.qlog. Returns nil if QLOGDIR is not set.
// It has the signature of the Config.Tracer callback.
func DefaultConnectionTracer(p logging.Perspective, connID logging.ConnectionID) *logging.ConnectionTracer {
	var label string
	switch p {
	case logging.PerspectiveClient:
		label = "client"
	case logging.PerspectiveServer:
		label = "server"
	}
	return qlogDirTracer(p, connID, label)
}

// qlogDirTracer creates a qlog file in the qlog directory specified by the
// QLOGDIR environment variable.
func qlogDirTracer(p logging.Perspective, connID logging.ConnectionID, label string) *logging.ConnectionTracer {
	qlogDir := os.Getenv("QLOGDIR")
	if qlogDir == "" {
		return nil
	}
	if _, err := os.Stat(qlogDir); os.IsNotExist(err) {
		if err := os.MkdirAll(qlogDir, 0o755); err != nil {
			log.Printf("failed to create qlog dir %s: %v", qlogDir, err)
			return nil
		}
	}
	path := fmt.Sprintf("%s/%s_%s.qlog", strings.TrimRight(qlogDir, "/"), connID, label)
	f, err := os.Create(path)
	if err != nil {
		log.Printf("failed to create qlog file %s: %s", path, err)
		return nil
	}
	return NewConnectionTracer(utils.NewBufferedWriteCloser(bufio.NewWriter(f), f), p, connID)
}
