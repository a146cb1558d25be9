package store

import "path/filepath"

// ChainDir returns the on-disk directory for a chain under datadir:
//
//	datadir/chains/<chain>/
func ChainDir(datadir, chainName string) string {
	return filepath.Join(datadir, "chains", chainName)
}

// HeadersSnapshotPath is the flat-file index snapshot inside a chain
// directory.
func HeadersSnapshotPath(chainDir string) string {
	return filepath.Join(chainDir, "headers.json")
}
