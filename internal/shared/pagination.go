package shared

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page describes the requested window of a listing.
type Page struct {
	Page     int
	PageSize int
}

// Normalize clamps page and size into sane bounds.
func (p Page) Normalize() Page {
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	return p
}

// Offset returns the row offset of the normalized page.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// PagingInfo carries simple prev/next metadata, computed by fetching limit+1 rows.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// NewPagingInfo builds paging metadata given the normalized page and whether an extra row
// was returned beyond the page size.
func NewPagingInfo(p Page, hasNext bool) PagingInfo {
	n := p.Normalize()
	info := PagingInfo{Page: n.Page, PageSize: n.PageSize, HasNext: hasNext}
	if n.Page > 1 {
		info.PrevPage = n.Page - 1
	}
	if hasNext {
		info.NextPage = n.Page + 1
	}
	return info
}
