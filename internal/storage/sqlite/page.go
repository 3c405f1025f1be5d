package sqlite

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200
)

type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Paginate slices items for a 1-based page. limit <= 0 uses the default and
// is capped at MaxPageLimit; pages past the end come back empty.
func Paginate[T any](items []T, page, limit int) Page[T] {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if page < 1 {
		page = 1
	}
	total := len(items)
	p := Page[T]{
		Items:      []T{},
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
	if page > p.TotalPages {
		return p
	}
	start := (page - 1) * limit
	end := start + limit
	if end > total {
		end = total
	}
	p.Items = items[start:end]
	return p
}
