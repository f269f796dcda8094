package models

// PageSize is the fixed number of violations per feed page.
const PageSize = 25

// FeedPage is a window into the remote violation history.
type FeedPage struct {
	Items      []ViolationEvent `json:"logs"`
	Page       int              `json:"page"`
	PageSize   int              `json:"limit"`
	TotalCount int              `json:"total"`
	HasMore    bool             `json:"has_more"`
}

// TotalPages is TotalCount / PageSize rounded up, and never less than one so
// an empty feed still has a page to display.
func (p *FeedPage) TotalPages() int {
	return TotalPages(p.TotalCount, p.PageSize)
}

// TotalPages computes ceil(total / size), minimum 1.
func TotalPages(total, size int) int {
	if size <= 0 {
		size = PageSize
	}
	pages := (total + size - 1) / size
	if pages < 1 {
		return 1
	}
	return pages
}
