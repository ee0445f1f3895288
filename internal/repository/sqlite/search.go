package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"ipamclient/internal/filter"
	"ipamclient/internal/repository"
	"ipamclient/internal/schema"
)

// typedRecord lets the traversal filter classify a stored record
type typedRecord struct {
	id   schema.TypeID
	name string
}

func (t typedRecord) TypeID() schema.TypeID { return t.id }
func (t typedRecord) TypeName() string      { return t.name }

// Search matches a case-insensitive regular expression against the
// string fields of every node below StartOID. Matches on attribute types
// are reported as the nearest non-attribute ancestor. Each page carries
// the matched OIDs plus the records of the matches and their ancestors.
func (r *Repository) Search(ctx context.Context, req repository.SearchRequest) (repository.SearchPage, error) {
	start, err := parseOID(req.StartOID)
	if err != nil {
		return repository.SearchPage{}, err
	}
	re, err := regexp.Compile("(?i)" + req.Pattern)
	if err != nil {
		return repository.SearchPage{}, fmt.Errorf("search %q: %w: %v", req.Pattern, repository.ErrInvalidData, err)
	}

	sub, err := subtree(ctx, r.db, start, repository.Unlimited)
	if err != nil {
		return repository.SearchPage{}, err
	}
	if len(sub.oids) == 0 {
		return repository.SearchPage{}, fmt.Errorf("oid %s: %w", req.StartOID, repository.ErrNotFound)
	}
	records, err := loadRecords(ctx, r.db, sub.oids)
	if err != nil {
		return repository.SearchPage{}, err
	}

	byOID := make(map[string]repository.Record, len(records))
	for _, rec := range records {
		byOID[rec.OID] = rec
	}
	limit := make(map[string]struct{}, len(req.AttrLimit))
	for _, name := range req.AttrLimit {
		limit[strings.ToLower(name)] = struct{}{}
	}
	f := filter.New(req.Include, req.Exclude, req.NoMatchBreak)

	var hits []string
	seen := make(map[string]bool)
	for _, rec := range records {
		if rec.OID == req.StartOID || !r.matches(re, limit, rec) {
			continue
		}
		hit, ok := r.owner(rec, byOID)
		if !ok || hit.OID == req.StartOID || seen[hit.OID] {
			continue
		}
		if !r.passes(f, hit, byOID, req.StartOID) {
			continue
		}
		seen[hit.OID] = true
		hits = append(hits, hit.OID)
	}

	pages, err := r.searchPages(ctx, hits)
	if err != nil {
		return repository.SearchPage{}, err
	}
	first := pages[0]
	if len(pages) > 1 {
		first.Next = r.saveCursor(&cursor{search: pages[1:]})
	}
	return first, nil
}

func (r *Repository) isAttribute(id schema.TypeID) bool {
	_, ok := r.attrTypes[id]
	return ok
}

// matches reports whether any searchable string field of rec matches.
// For attribute types the first field is the attribute name, which is
// checked against the limit and not searched itself.
func (r *Repository) matches(re *regexp.Regexp, limit map[string]struct{}, rec repository.Record) bool {
	fields := rec.Data
	if r.isAttribute(rec.TypeID) {
		if len(fields) == 0 {
			return false
		}
		if len(limit) > 0 {
			name, _ := fields[0].(string)
			if _, ok := limit[strings.ToLower(name)]; !ok {
				return false
			}
		}
		fields = fields[1:]
	} else if len(limit) > 0 {
		return false
	}

	for _, field := range fields {
		if s, ok := field.(string); ok && re.MatchString(s) {
			return true
		}
	}
	return false
}

// owner climbs from an attribute record to the node that owns it
func (r *Repository) owner(rec repository.Record, byOID map[string]repository.Record) (repository.Record, bool) {
	for r.isAttribute(rec.TypeID) {
		parent, ok := byOID[rec.ParentOID]
		if !ok {
			return repository.Record{}, false
		}
		rec = parent
	}
	return rec, true
}

// passes applies the filter to a hit. With NoMatchBreak, a pruned
// ancestor between the start node and the hit also hides the hit.
func (r *Repository) passes(f filter.Filter, hit repository.Record, byOID map[string]repository.Record, startOID string) bool {
	if f.Classify(r.typed(hit)) != filter.Match {
		return false
	}
	if !f.NoMatchBreak() {
		return true
	}
	for oid := hit.ParentOID; oid != startOID; {
		anc, ok := byOID[oid]
		if !ok {
			break
		}
		if f.Classify(r.typed(anc)) == filter.Prune {
			return false
		}
		oid = anc.ParentOID
	}
	return true
}

func (r *Repository) typed(rec repository.Record) typedRecord {
	t := typedRecord{id: rec.TypeID}
	if desc, ok := r.reg.Lookup(rec.TypeID); ok {
		t.name = desc.Name
	}
	return t
}

// searchPages splits hits into pages, each with the ancestor chains its
// hits need
func (r *Repository) searchPages(ctx context.Context, hits []string) ([]repository.SearchPage, error) {
	var pages []repository.SearchPage
	for {
		n := min(len(hits), r.pageSize)
		page := repository.SearchPage{OIDs: hits[:n]}

		set := newOIDSet()
		for _, oid := range page.OIDs {
			id, err := parseOID(oid)
			if err != nil {
				return nil, err
			}
			chain, err := ancestors(ctx, r.db, id)
			if err != nil {
				return nil, err
			}
			set.add(chain...)
		}
		records, err := loadRecords(ctx, r.db, set.list())
		if err != nil {
			return nil, err
		}
		page.Records = parentFirst(records)
		pages = append(pages, page)

		hits = hits[n:]
		if len(hits) == 0 {
			return pages, nil
		}
	}
}
