package migration

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/images"
)

const emptyDocument = "{}"

// AppearanceResult reports the outcome of the appearance pass.
type AppearanceResult struct {
	Skipped bool     `json:"skipped"`
	Reason  Reason   `json:"reason,omitempty"`
	Moved   []string `json:"moved"`
	SavedKB int      `json:"savedKB"`
}

// RunAppearance extracts embedded images from the appearance document. Skip
// outcomes are reported through the result; only backend failures are
// returned as errors, after the transaction has rolled back.
func (e *Engine) RunAppearance(ctx context.Context, opts Options) (AppearanceResult, error) {
	result := AppearanceResult{Moved: []string{}}

	db, err := e.pools.GetPool(ctx)
	if err != nil {
		return result, err
	}

	imagesRaw, imagesFound, err := database.GetValue(ctx, db, images.AppearanceImagesKey)
	if err != nil {
		return result, e.fail(err)
	}
	if imagesFound && !opts.Force && !isEmptyDocument(imagesRaw) {
		result.Skipped = true
		result.Reason = ReasonAlreadyDone
		outcome(images.AppearanceKey, string(result.Reason))
		return result, nil
	}

	sourceRaw, sourceFound, err := database.GetValue(ctx, db, images.AppearanceKey)
	if err != nil {
		return result, e.fail(err)
	}
	if !sourceFound {
		if err := e.writeStub(ctx, db, images.AppearanceImagesKey, imagesFound); err != nil {
			return result, err
		}
		result.Skipped = true
		result.Reason = ReasonNoSource
		outcome(images.AppearanceKey, string(result.Reason))
		return result, nil
	}

	doc, ok := images.DecodeObject(sourceRaw)
	if !ok {
		result.Skipped = true
		result.Reason = ReasonParseError
		outcome(images.AppearanceKey, string(result.Reason))
		e.log.Warn("appearance document does not parse, leaving it untouched")
		return result, nil
	}

	ex := images.ExtractAppearance(doc)
	if ex.Count() == 0 {
		if err := e.writeStub(ctx, db, images.AppearanceImagesKey, imagesFound); err != nil {
			return result, err
		}
		result.Reason = ReasonNoImagesFound
		outcome(images.AppearanceKey, string(result.Reason))
		return result, nil
	}

	if err := e.persistPair(ctx, db, images.AppearanceKey, doc, images.AppearanceImagesKey, imagesRaw, imagesFound, ex); err != nil {
		outcome(images.AppearanceKey, "error")
		return result, err
	}

	result.Moved = ex.Moved
	result.SavedKB = ex.SavedKB()
	outcome(images.AppearanceKey, "migrated")
	e.log.Info("appearance images extracted",
		zap.Strings("moved", ex.Moved),
		zap.Int("saved_kb", result.SavedKB))
	return result, nil
}

// writeStub stores an empty images document when none exists, so later runs
// see the pass as complete.
func (e *Engine) writeStub(ctx context.Context, db *gorm.DB, key string, found bool) error {
	if found {
		return nil
	}
	if err := database.UpsertValue(ctx, db, key, emptyDocument); err != nil {
		return e.fail(err)
	}
	e.invalidate(key)
	return nil
}

// persistPair writes the rewritten source document and the merged images
// document in one transaction.
func (e *Engine) persistPair(ctx context.Context, db *gorm.DB, sourceKey string, source any, imagesKey, imagesRaw string, imagesFound bool, ex images.Extraction) error {
	base := map[string]any{}
	if imagesFound {
		if existing, ok := images.DecodeObject(imagesRaw); ok {
			base = existing
		}
	}

	imagesDoc, err := images.EncodeImages(images.Merge(base, ex.Images))
	if err != nil {
		return fmt.Errorf("migration: encode %q: %w", imagesKey, err)
	}
	sourceDoc, err := images.Encode(source)
	if err != nil {
		return fmt.Errorf("migration: encode %q: %w", sourceKey, err)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.UpsertValue(ctx, tx, imagesKey, imagesDoc); err != nil {
			return err
		}
		return database.UpsertValue(ctx, tx, sourceKey, sourceDoc)
	})
	if err != nil {
		return e.fail(fmt.Errorf("migration: persist %q: %w", sourceKey, err))
	}

	e.invalidate(imagesKey, sourceKey)
	return nil
}

func (e *Engine) fail(err error) error {
	e.pools.RecordError(err)
	return err
}
