package elastic

import (
	"bytes"
	"context"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
)

const (
	IdxFindings = "findings_v1"
	IdxSessions = "sessions_v1"
)

func EnsureIndexes(ctx context.Context, c *es.Client) error {
	mapping := `{"settings":{"number_of_shards":1},"mappings":{"dynamic":"strict","properties":{
		"session_id":{"type":"keyword"},"type":{"type":"keyword"},"content":{"type":"text"},
		"confidence":{"type":"float"},"sources":{"type":"keyword"},"created_at":{"type":"date"}
	}}}`
	if err := ensure(ctx, c, IdxFindings, mapping); err != nil {
		return err
	}

	mapping = `{"settings":{"number_of_shards":1},"mappings":{"dynamic":"strict","properties":{
		"topic":{"type":"text"},"project":{"type":"keyword"},"status":{"type":"keyword"},
		"url_count":{"type":"integer"},"started_at":{"type":"date"},"archived_at":{"type":"date"}
	}}}`
	return ensure(ctx, c, IdxSessions, mapping)
}

func ensure(ctx context.Context, c *es.Client, index, body string) error {
	exists, err := c.Indices.Exists([]string{index}, c.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}
	res, err := c.Indices.Create(index, c.Indices.Create.WithBody(bytes.NewBufferString(body)), c.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", index, res.Status())
	}
	return nil
}
