package httpx

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

const (
	defaultPageSize    = 50
	defaultMaxPageSize = 500
	defaultLogPageSize = 100
)

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func newPagination(page repository.Page, total int) pagination {
	pages := 0
	if page.Limit > 0 {
		pages = (total + page.Limit - 1) / page.Limit
	}
	return pagination{Page: page.Number, Limit: page.Limit, Total: total, Pages: pages}
}

// parsePage reads page and limit. Limits above the maximum are clamped.
func (r *Router) parsePage(q url.Values, verr *domain.ValidationError, fallback int) repository.Page {
	page := repository.Page{Number: 1, Limit: fallback}
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			verr.Add("page", "must be a positive integer")
		} else {
			page.Number = n
		}
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			verr.Add("limit", "must be a positive integer")
		} else {
			page.Limit = n
		}
	}
	if page.Limit > r.maxPageSize {
		page.Limit = r.maxPageSize
	}
	if page.Number-1 > repository.MaxOffset/page.Limit {
		verr.Add("page", "is out of range")
		page.Number = 1
	}
	return page
}

// parseSort validates sortBy against keys and sortOrder against asc|desc.
func parseSort(q url.Values, verr *domain.ValidationError, keys []string, defaultDesc bool) repository.Sort {
	sort := repository.Sort{Desc: defaultDesc}
	if key := strings.TrimSpace(q.Get("sortBy")); key != "" {
		if !slices.Contains(keys, key) {
			verr.Add("sortBy", "must be one of "+strings.Join(keys, ", "))
		} else {
			sort.Key = key
		}
	}
	sort.Desc = parseSortOrder(q, verr, defaultDesc)
	return sort
}

func parseSortOrder(q url.Values, verr *domain.ValidationError, defaultDesc bool) bool {
	switch strings.ToLower(strings.TrimSpace(q.Get("sortOrder"))) {
	case "":
		return defaultDesc
	case "asc":
		return false
	case "desc":
		return true
	default:
		verr.Add("sortOrder", "must be asc or desc")
		return defaultDesc
	}
}

// splitList parses a comma separated query value, dropping blanks.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
