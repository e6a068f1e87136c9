//go:build !windows

package toolenv

const pathKey = "PATH"

func normalize(key string) string { return key }

func candidates(p string) []string { return []string{p} }
