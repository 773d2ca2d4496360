package uiserver

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rbright/uiserver/internal/assuan"
)

const defaultChecksumAlgo = "sha256"

var checksumAlgorithms = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha1":   sha1.New,
	"md5":    md5.New,
}

// checksumAlgo returns the selected algorithm name and its sum file name.
func checksumAlgo(s *Session) (string, string) {
	algo, ok := s.Option("checksum-algo")
	algo = strings.ToLower(algo)
	if !ok || algo == "" {
		algo = defaultChecksumAlgo
	}
	return algo, algo + "sum.txt"
}

func createChecksums(ctx context.Context, s *Session) error {
	files := s.Files()
	if len(files) == 0 {
		return assuan.Errorf(assuan.CodeNoInput, "At least one FILE must be present")
	}
	if len(s.Senders()) > 0 || len(s.Recipients()) > 0 {
		return assuan.Errorf(assuan.CodeConflict, "CHECKSUM_CREATE_FILES does not accept SENDER or RECIPIENT")
	}
	algo, sumName := checksumAlgo(s)

	byDir := make(map[string][]string)
	for _, path := range files {
		abs, err := filepath.Abs(path)
		if err != nil {
			return assuan.Errorf(assuan.CodeInvalidArg, "%s: %v", path, err)
		}
		dir := filepath.Dir(abs)
		byDir[dir] = append(byDir[dir], abs)
	}
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var written []string
	for _, dir := range dirs {
		sumPath := filepath.Join(dir, sumName)
		entries, err := readSumFile(sumPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return assuan.Errorf(assuan.CodeGeneral, "read %s: %v", sumPath, err)
		}
		if entries == nil {
			entries = make(map[string]string)
		}

		for _, path := range byDir[dir] {
			if err := ctx.Err(); err != nil {
				return assuan.ErrCanceled
			}
			sum, err := hashFile(path, algo)
			if err != nil {
				return err
			}
			entries[filepath.Base(path)] = sum
		}

		if err := writeSumFile(sumPath, entries); err != nil {
			return assuan.Errorf(assuan.CodeGeneral, "write %s: %v", sumPath, err)
		}
		if err := s.SendStatus("CHECKSUM_FILE", assuan.Encode(sumPath)); err != nil {
			return err
		}
		written = append(written, sumPath)
	}

	s.SetValue("checksum_files", []byte(strings.Join(written, "\n")))
	return s.SendData([]byte(strings.Join(written, "\n")))
}

func verifyChecksums(ctx context.Context, s *Session) error {
	files := s.Files()
	if len(files) == 0 {
		return assuan.Errorf(assuan.CodeNoInput, "At least one FILE must be present")
	}
	algo, sumName := checksumAlgo(s)

	sumFiles := make(map[string]map[string]string)
	bad := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return assuan.ErrCanceled
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return assuan.Errorf(assuan.CodeInvalidArg, "%s: %v", path, err)
		}
		dir := filepath.Dir(abs)
		entries, ok := sumFiles[dir]
		if !ok {
			entries, err = readSumFile(filepath.Join(dir, sumName))
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return assuan.Errorf(assuan.CodeGeneral, "read %s: %v", filepath.Join(dir, sumName), err)
			}
			sumFiles[dir] = entries
		}

		keyword := "CHECKSUM_MISSING"
		if want, listed := entries[filepath.Base(abs)]; listed {
			got, err := hashFile(abs, algo)
			if err != nil {
				return err
			}
			keyword = "CHECKSUM_OK"
			if !strings.EqualFold(got, want) {
				keyword = "CHECKSUM_BAD"
				bad++
			}
		}
		if err := s.SendStatus(keyword, assuan.Encode(abs)); err != nil {
			return err
		}
	}

	if bad > 0 {
		return assuan.Errorf(assuan.CodeBadSignature, "Bad checksum for %d file(s)", bad)
	}
	return nil
}

func hashFile(path, algo string) (string, error) {
	newHash, ok := checksumAlgorithms[algo]
	if !ok {
		return "", assuan.Errorf(assuan.CodeInvalidValue, "unsupported checksum-algo %q", algo)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", assuan.Errorf(assuan.CodeNoInput, "%s: %v", path, err)
	}
	if info.IsDir() {
		return "", assuan.Errorf(assuan.CodeInvalidArg, "%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", assuan.Errorf(assuan.CodeNoInput, "%s: %v", path, err)
	}
	defer f.Close()

	h := newHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", assuan.Errorf(assuan.CodeGeneral, "read %s: %v", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readSumFile parses "<hex>  <name>" lines. A '*' before the name marks
// binary mode and is ignored.
func readSumFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		sum, name, ok := strings.Cut(line, " ")
		if !ok || sum == "" {
			continue
		}
		name = strings.TrimPrefix(strings.TrimPrefix(name, " "), "*")
		if name == "" {
			continue
		}
		entries[name] = sum
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeSumFile(path string, entries map[string]string) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s  %s\n", entries[name], name)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checksum-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
