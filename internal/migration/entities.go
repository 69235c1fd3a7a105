package migration

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/images"
)

// EntityResult reports the outcome for one entity collection.
type EntityResult struct {
	Key     string `json:"key"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  Reason `json:"reason,omitempty"`
	Moved   int    `json:"moved"`
	SavedKB int    `json:"savedKB"`
	Error   string `json:"error,omitempty"`
}

// RunEntities extracts embedded images from every entity collection. A
// failure in one collection is recorded in its result and the remaining
// collections still run. The error is only set when no pool is available.
func (e *Engine) RunEntities(ctx context.Context, opts Options) ([]EntityResult, error) {
	db, err := e.pools.GetPool(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]EntityResult, 0, len(e.collections))
	for _, collection := range e.collections {
		result := e.runCollection(ctx, db, collection, opts)
		if result.Error != "" {
			outcome(collection.Key, "error")
			e.log.Error("entity image migration failed",
				zap.String("key", collection.Key),
				zap.String("error", result.Error))
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Engine) runCollection(ctx context.Context, db *gorm.DB, collection images.Collection, opts Options) EntityResult {
	result := EntityResult{Key: collection.Key}

	imagesRaw, imagesFound, err := database.GetValue(ctx, db, collection.ImagesKey)
	if err != nil {
		result.Error = e.fail(err).Error()
		return result
	}
	if imagesFound && !opts.Force && !isEmptyDocument(imagesRaw) {
		return e.skip(result, ReasonAlreadyDone)
	}

	sourceRaw, sourceFound, err := database.GetValue(ctx, db, collection.Key)
	if err != nil {
		result.Error = e.fail(err).Error()
		return result
	}
	if !sourceFound {
		return e.skip(result, ReasonNoData)
	}

	value, err := images.Decode(sourceRaw)
	if err != nil {
		return e.skip(result, ReasonParseError)
	}
	records, ok := value.([]any)
	if !ok {
		return e.skip(result, ReasonNotArray)
	}

	ex := collection.Extract(records)
	if ex.Count() == 0 {
		if err := e.writeStub(ctx, db, collection.ImagesKey, imagesFound); err != nil {
			result.Error = err.Error()
			return result
		}
		outcome(collection.Key, "nothing_to_move")
		return result
	}

	if err := e.persistPair(ctx, db, collection.Key, records, collection.ImagesKey, imagesRaw, imagesFound, ex); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Moved = ex.Count()
	result.SavedKB = ex.SavedKB()
	outcome(collection.Key, "migrated")
	e.log.Info("entity images extracted",
		zap.String("key", collection.Key),
		zap.Int("moved", result.Moved),
		zap.Int("saved_kb", result.SavedKB))
	return result
}

func (e *Engine) skip(result EntityResult, reason Reason) EntityResult {
	result.Skipped = true
	result.Reason = reason
	outcome(result.Key, string(reason))
	return result
}
