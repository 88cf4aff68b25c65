package sweep

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tts-cache/db"
)

// SHA1File returns the hex SHA1 digest of a file.
func SHA1File(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha1.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// HashStore is the part of the ledger Verify needs.
type HashStore interface {
	AssetsNeedingHash(ctx context.Context) ([]db.Asset, error)
	RecordContentHash(ctx context.Context, filename, sha1 string, checkedAt int64) error
}

// Verify hashes every cached asset whose file changed since it was last
// hashed and stores the digest. It returns the number of files hashed.
func Verify(ctx context.Context, store HashStore, modsDir string, log *zap.SugaredLogger) (int, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	assets, err := store.AssetsNeedingHash(ctx)
	if err != nil {
		return 0, err
	}

	hashed := 0
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return hashed, err
		}
		path := filepath.Join(modsDir, a.Path())
		sum, err := SHA1File(path)
		if err != nil {
			log.Warnw("Failed to hash cached asset", zap.String("file", path), zap.Error(err))
			continue
		}
		if err := store.RecordContentHash(ctx, a.Filename, sum, a.Mtime); err != nil {
			return hashed, err
		}
		hashed++
	}
	return hashed, nil
}
