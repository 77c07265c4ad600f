// Package textutil provides filename sanitization and the token matching
// used to pair downloaded files with queue item titles.
package textutil
