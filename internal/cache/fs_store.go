package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{basePath: abs}, nil
}

// fileStore 的布局为 <basePath>/<site>/<generation>/<aa>/<entry>.entry，
// 每条记录单文件保存，写入走临时文件 + rename，因此同 key 并发写入只会整体覆盖。
type fileStore struct {
	basePath string
}

func (s *fileStore) Driver() string {
	return "disk"
}

func (s *fileStore) Open(ctx context.Context, id BucketID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.bucketPath(id)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *fileStore) Get(ctx context.Context, id BucketID, entry string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(id, entry)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *fileStore) Put(ctx context.Context, id BucketID, entry string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.entryPath(id, entry)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Generations(ctx context.Context, site string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName("site", site); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.basePath, site))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var result []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		result = append(result, e.Name())
	}
	sort.Strings(result)
	return result, nil
}

func (s *fileStore) Drop(ctx context.Context, id BucketID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.bucketPath(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	// 先移入隐藏目录再删除，避免删除中途被读取到半个 bucket。
	trash, err := os.MkdirTemp(filepath.Dir(dir), ".drop-*")
	if err != nil {
		return err
	}
	if err := os.Rename(dir, filepath.Join(trash, id.Generation)); err != nil {
		os.Remove(trash)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.RemoveAll(trash)
}

func (s *fileStore) bucketPath(id BucketID) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, id.Site, id.Generation)
	if !strings.HasPrefix(dir, s.basePath+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return dir, nil
}

func (s *fileStore) entryPath(id BucketID, entry string) (string, error) {
	dir, err := s.bucketPath(id)
	if err != nil {
		return "", err
	}
	if len(entry) < 3 || strings.ContainsAny(entry, `/\.`) {
		return "", fmt.Errorf("invalid entry name: %q", entry)
	}
	return filepath.Join(dir, entry[:2], entry+".entry"), nil
}
