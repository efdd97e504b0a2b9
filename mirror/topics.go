package mirror

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/InsulaLabs/ntmirror/models"
)

type topicCache struct {
	mu     sync.RWMutex
	topics map[string]models.TopicInfo
}

func newTopicCache() *topicCache {
	return &topicCache{topics: make(map[string]models.TopicInfo)}
}

func (tc *topicCache) put(info models.TopicInfo) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.topics[info.Name] = info
	return len(tc.topics)
}

func (tc *topicCache) remove(name string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.topics, name)
	return len(tc.topics)
}

// setProperties reports false when the topic is unknown.
func (tc *topicCache) setProperties(name string, props map[string]any) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	info, ok := tc.topics[name]
	if !ok {
		return false
	}
	info.Properties = props
	tc.topics[name] = info
	return true
}

func (tc *topicCache) get(name string) (models.TopicInfo, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	info, ok := tc.topics[name]
	if !ok {
		return models.TopicInfo{}, false
	}
	info.Properties = maps.Clone(info.Properties)
	return info, true
}

func (tc *topicCache) names(prefix string) []string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	out := make([]string, 0, len(tc.topics))
	for name := range tc.topics {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (tc *topicCache) list(prefix string) []models.TopicInfo {
	names := tc.names(prefix)
	out := make([]models.TopicInfo, 0, len(names))
	for _, name := range names {
		// A topic removed between the two reads is skipped.
		if info, ok := tc.get(name); ok {
			out = append(out, info)
		}
	}
	return out
}
