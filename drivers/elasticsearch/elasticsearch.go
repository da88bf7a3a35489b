// Package elasticsearch implements store.Replica on Elasticsearch.
// Documents are written with external_gte versioning keyed on the object
// sid, which makes the write-if-not-older rule an index-side guarantee:
// concurrent writers can race freely and the newest sheet still wins.
package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	elastic "github.com/olivere/elastic/v7"

	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("elasticsearch")

const scrollSize = 1000

// mapping keeps every string a keyword so that term queries on links and
// linked_uuids behave exactly, without analyzer surprises.
const mapping = `{
	"mappings": {
		"dynamic_templates": [{
			"strings_as_keywords": {
				"match_mapping_type": "string",
				"mapping": {"type": "keyword"}
			}
		}]
	}
}`

type Search struct {
	client  *elastic.Client
	index   string
	records string
	ctx     context.Context
}

// New connects to the cluster and ensures the document and records indices
// exist.
func New(url, index string) (*Search, error) {
	client, err := elastic.NewClient(elastic.SetURL(url), elastic.SetSniff(false))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: connect %s: %w", url, err)
	}
	s := &Search{
		client:  client,
		index:   index,
		records: index + "-records",
		ctx:     context.Background(),
	}
	for _, idx := range []string{s.index, s.records} {
		exists, err := client.IndexExists(idx).Do(s.ctx)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch: check index %s: %w", idx, err)
		}
		if !exists {
			if _, err := client.CreateIndex(idx).BodyString(mapping).Do(s.ctx); err != nil {
				return nil, fmt.Errorf("elasticsearch: create index %s: %w", idx, err)
			}
			log.WithField("index", idx).Info("Index created")
		}
	}
	return s, nil
}

func (s *Search) GetByUUID(uuid string) (*store.Document, error) {
	res, err := s.client.Get().Index(s.index).Id(uuid).Do(s.ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", store.ErrUnavailable, uuid, err)
	}
	var doc store.Document
	if err := json.Unmarshal(res.Source, &doc); err != nil {
		return nil, fmt.Errorf("elasticsearch: decode %s: %w", uuid, err)
	}
	return &doc, nil
}

// Update indexes the document with its sid as the external version. The
// index accepts equal-or-newer versions and rejects older ones, which comes
// back as ErrConflict.
func (s *Search) Update(doc *store.Document) error {
	_, err := s.client.Index().
		Index(s.index).
		Id(doc.UUID).
		VersionType("external_gte").
		Version(doc.Sid).
		BodyJson(doc).
		Do(s.ctx)
	if err != nil {
		if elastic.IsConflict(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("%w: index %s: %v", store.ErrUnavailable, doc.UUID, err)
	}
	return nil
}

func (s *Search) Purge(uuid, itemType string) (bool, error) {
	_, err := s.client.Delete().Index(s.index).Id(uuid).Do(s.ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return true, nil
		}
		return false, fmt.Errorf("%w: delete %s: %v", store.ErrUnavailable, uuid, err)
	}
	return true, nil
}

func (s *Search) RevLinks(uuid, rel string, itemTypes ...string) ([]string, error) {
	q := elastic.NewBoolQuery().Filter(elastic.NewTermQuery("links."+rel, uuid))
	if len(itemTypes) > 0 {
		vals := make([]interface{}, len(itemTypes))
		for i, t := range itemTypes {
			vals[i] = t
		}
		q = q.Filter(elastic.NewTermsQuery("item_type", vals...))
	}
	refs, err := s.scan(q)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, len(refs))
	for i, r := range refs {
		uuids[i] = r.UUID
	}
	return uuids, nil
}

func (s *Search) FindLinking(uuids []string) ([]store.Ref, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	vals := make([]interface{}, len(uuids))
	for i, u := range uuids {
		vals[i] = u
	}
	return s.scan(elastic.NewBoolQuery().Filter(elastic.NewTermsQuery("linked_uuids", vals...)))
}

func (s *Search) Iterate(itemTypes ...string) ([]string, error) {
	q := elastic.NewBoolQuery()
	if len(itemTypes) > 0 {
		vals := make([]interface{}, len(itemTypes))
		for i, t := range itemTypes {
			vals[i] = t
		}
		q = q.Filter(elastic.NewTermsQuery("item_type", vals...))
	} else {
		q = q.Must(elastic.NewMatchAllQuery())
	}
	refs, err := s.scan(q)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, len(refs))
	for i, r := range refs {
		uuids[i] = r.UUID
	}
	return uuids, nil
}

// scan scrolls the full result set, fetching only uuid and item_type.
func (s *Search) scan(q elastic.Query) ([]store.Ref, error) {
	scroll := s.client.Scroll(s.index).Query(q).Size(scrollSize).
		FetchSourceContext(elastic.NewFetchSourceContext(true).Include("uuid", "item_type"))
	var refs []store.Ref
	for {
		res, err := scroll.Do(s.ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: scroll: %v", store.ErrUnavailable, err)
		}
		for _, hit := range res.Hits.Hits {
			var ref struct {
				UUID     string `json:"uuid"`
				ItemType string `json:"item_type"`
			}
			if err := json.Unmarshal(hit.Source, &ref); err != nil {
				x.LogErr(log, err).WithField("id", hit.Id).Error("Skipping undecodable hit")
				continue
			}
			refs = append(refs, store.Ref{UUID: ref.UUID, ItemType: ref.ItemType})
		}
	}
	return refs, nil
}

// PutRecord stores an operational record, such as an indexing run result,
// in the records index outside versioning.
func (s *Search) PutRecord(key string, value interface{}) error {
	_, err := s.client.Index().Index(s.records).Id(key).BodyJson(value).Do(s.ctx)
	if err != nil {
		return fmt.Errorf("%w: put record %s: %v", store.ErrUnavailable, key, err)
	}
	return nil
}
