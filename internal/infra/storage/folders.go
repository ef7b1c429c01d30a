// Package storage keeps recordings in named folders on local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"harkness_helper/internal/domain/provider"
)

var (
	ErrUnknownFolder = errors.New("unknown folder")
	ErrFileNotFound  = errors.New("file not found")
)

// FolderStore maps folder names to directories. File IDs have the form
// "<folder>/<file name>".
type FolderStore struct {
	dirs    map[string]string
	signer  *Signer
	baseURL string
}

// NewFolderStore creates every folder directory. baseURL is the public
// address serving /audio/:token.
func NewFolderStore(dirs map[string]string, signer *Signer, baseURL string) (*FolderStore, error) {
	for name, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create folder %s: %w", name, err)
		}
	}
	return &FolderStore{dirs: dirs, signer: signer, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FolderStore) List(_ context.Context, folder string) ([]provider.FileInfo, error) {
	dir, ok := s.dirs[folder]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder %s: %w", folder, err)
	}
	files := make([]provider.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo(folder, info))
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].Name < files[j].Name
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

// Move renames the file into folder. A name already taken in the target
// folder gets a numeric suffix.
func (s *FolderStore) Move(_ context.Context, fileID, folder string) (provider.FileInfo, error) {
	src, err := s.resolve(fileID)
	if err != nil {
		return provider.FileInfo{}, err
	}
	dir, ok := s.dirs[folder]
	if !ok {
		return provider.FileInfo{}, fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}
	name := filepath.Base(src)
	dst := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			break
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), i, ext))
	}
	if err := os.Rename(src, dst); err != nil {
		return provider.FileInfo{}, fmt.Errorf("move %s to %s: %w", fileID, folder, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return provider.FileInfo{}, fmt.Errorf("stat moved file: %w", err)
	}
	return fileInfo(folder, info), nil
}

func (s *FolderStore) Open(_ context.Context, fileID string) (io.ReadCloser, provider.FileInfo, error) {
	p, err := s.resolve(fileID)
	if err != nil {
		return nil, provider.FileInfo{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, provider.FileInfo{}, fmt.Errorf("open %s: %w", fileID, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, provider.FileInfo{}, fmt.Errorf("stat %s: %w", fileID, err)
	}
	folder, _, _ := strings.Cut(fileID, "/")
	return f, fileInfo(folder, info), nil
}

func (s *FolderStore) SignedURL(_ context.Context, fileID string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(fileID); err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(fileID, ttl)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/audio/" + token, nil
}

// OpenSigned validates a download token and opens the file it names.
func (s *FolderStore) OpenSigned(ctx context.Context, token string) (io.ReadCloser, provider.FileInfo, error) {
	fileID, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, provider.FileInfo{}, err
	}
	return s.Open(ctx, fileID)
}

func (s *FolderStore) resolve(fileID string) (string, error) {
	folder, name, ok := strings.Cut(fileID, "/")
	if !ok || name == "" || name != path.Base(name) || name == ".." {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	dir, ok := s.dirs[folder]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	return p, nil
}

var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
	".flac": "audio/flac",
	".aac":  "audio/aac",
}

func fileInfo(folder string, info os.FileInfo) provider.FileInfo {
	ext := strings.ToLower(filepath.Ext(info.Name()))
	mt, ok := audioTypes[ext]
	if !ok {
		mt = mime.TypeByExtension(ext)
	}
	if mt == "" {
		mt = "application/octet-stream"
	}
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	return provider.FileInfo{
		ID:        folder + "/" + info.Name(),
		Name:      info.Name(),
		MimeType:  mt,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}
}
