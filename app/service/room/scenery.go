package room

import (
	"crypto/sha1"
	"encoding/hex"

	"hearth/app/util/fileutil"

	"github.com/samber/oops"
)

const sceneryFile = "scenery_cache.json"

// SceneryKey builds the cache key location_hash_season_timeofday.
func SceneryKey(location, season, timeOfDay string) string {
	sum := sha1.Sum([]byte(location))
	return location + "_" + hex.EncodeToString(sum[:4]) + "_" + season + "_" + timeOfDay
}

func (r *Room) Scenery(key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cache, err := r.sceneryCache()
	if err != nil {
		return "", false, err
	}

	text, ok := cache[key]
	return text, ok, nil
}

func (r *Room) CacheScenery(key, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cache, err := r.sceneryCache()
	if err != nil {
		return err
	}
	cache[key] = text

	if err = fileutil.WriteJSON(r.Path(sceneryFile), cache); err != nil {
		return oops.In("room").With("room", r.name).Wrapf(err, "save scenery cache")
	}
	return nil
}

func (r *Room) sceneryCache() (map[string]string, error) {
	cache := map[string]string{}
	if _, err := fileutil.ReadJSON(r.Path(sceneryFile), &cache); err != nil {
		return nil, oops.In("room").With("room", r.name).Wrapf(err, "load scenery cache")
	}
	return cache, nil
}
