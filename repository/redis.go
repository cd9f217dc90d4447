package repository

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/loiht2/payload-forge/models"
)

const templateHashKey = "payload-forge:templates"

// Sets the field only if it already exists, so an update racing a delete cannot resurrect the record
const updateIfExistsScript = `
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`

// RedisStore keeps templates as JSON documents in a single redis hash keyed by id
type RedisStore struct {
	db redis.UniversalClient
}

func NewRedisStore(db redis.UniversalClient) *RedisStore {
	return &RedisStore{db: db}
}

func (s *RedisStore) Name() string {
	return "redis"
}

// redisDocument is the stored form; data stays raw so Decode can merge it over defaults
type redisDocument struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   json.RawMessage `json:"createdAt"`
	UpdatedAt   json.RawMessage `json:"updatedAt"`
}

func (s *RedisStore) List(_ context.Context) ([]models.StoredTemplate, error) {
	result, err := s.db.HGetAll(templateHashKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading templates from redis")
	}
	templates := make([]models.StoredTemplate, 0, len(result))
	for _, v := range result {
		template, err := decodeRedisTemplate(v)
		if skipUnreadable(s.Name(), err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}
	return templates, nil
}

func (s *RedisStore) Get(_ context.Context, id string) (*models.StoredTemplate, error) {
	result, err := s.db.HGet(templateHashKey, id).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "error reading template %s from redis", id)
	}
	return decodeRedisTemplate(result)
}

func (s *RedisStore) Insert(_ context.Context, template models.StoredTemplate) error {
	data, err := json.Marshal(template)
	if err != nil {
		return errors.Wrap(err, "error marshalling template")
	}
	if err := s.db.HSet(templateHashKey, template.ID, data).Err(); err != nil {
		return errors.Wrapf(err, "error writing template %s to redis", template.ID)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, template models.StoredTemplate) (*models.StoredTemplate, error) {
	existing, err := s.Get(ctx, template.ID)
	if err != nil || existing == nil {
		return nil, err
	}
	updated := models.StoredTemplate{
		ID:          existing.ID,
		Name:        template.Name,
		Description: template.Description,
		Data:        template.Data.Clone(),
		CreatedAt:   existing.CreatedAt,
		UpdatedAt:   template.UpdatedAt,
	}
	data, err := json.Marshal(updated)
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling template")
	}
	result, err := s.db.Eval(updateIfExistsScript, []string{templateHashKey}, template.ID, string(data)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "error writing template %s to redis", template.ID)
	}
	if n, ok := result.(int64); !ok || n == 0 {
		return nil, nil
	}
	return &updated, nil
}

func (s *RedisStore) Delete(_ context.Context, id string) (bool, error) {
	removed, err := s.db.HDel(templateHashKey, id).Result()
	if err != nil {
		return false, errors.Wrapf(err, "error deleting template %s from redis", id)
	}
	return removed > 0, nil
}

func (s *RedisStore) Ping(_ context.Context) error {
	return s.db.Ping().Err()
}

func decodeRedisTemplate(raw string) (*models.StoredTemplate, error) {
	var doc redisDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling template")
	}
	values, err := decodeStoredValues(doc.ID, doc.Data)
	if err != nil {
		return nil, err
	}
	template := &models.StoredTemplate{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Data:        values,
	}
	if len(doc.CreatedAt) > 0 {
		if err := json.Unmarshal(doc.CreatedAt, &template.CreatedAt); err != nil {
			return nil, errors.Wrapf(err, "template %s has invalid createdAt", doc.ID)
		}
	}
	if len(doc.UpdatedAt) > 0 {
		if err := json.Unmarshal(doc.UpdatedAt, &template.UpdatedAt); err != nil {
			return nil, errors.Wrapf(err, "template %s has invalid updatedAt", doc.ID)
		}
	}
	return template, nil
}
