package share

import (
	"time"

	"weaver/media"
	"weaver/store"
)

type createRequest struct {
	Title string `json:"title"`
}

type createResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

type pageRequest struct {
	PageIndex *int    `json:"page_index"`
	Image     *string `json:"image"`
	Text      *string `json:"text"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type pageJSON struct {
	PageIndex int     `json:"page_index"`
	Image     *string `json:"image"`
	Text      *string `json:"text"`
}

type storyJSON struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	Pages     []pageJSON `json:"pages"`
}

type summaryJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Pages     int       `json:"pages"`
}

func encodeImage(m *media.Media) *string {
	if m == nil || len(m.Data) == 0 {
		return nil
	}
	s := m.DataURL()
	return &s
}

func decodeImage(s *string) (*media.Media, error) {
	if s == nil {
		return nil, nil
	}
	return store.DecodeImage(*s)
}

func toStoryJSON(st *store.Story) storyJSON {
	out := storyJSON{ID: st.ID, Title: st.Title, CreatedAt: st.CreatedAt, Pages: make([]pageJSON, 0, len(st.Pages))}
	for _, p := range st.Pages {
		out.Pages = append(out.Pages, pageJSON{PageIndex: p.Index, Image: encodeImage(p.Image), Text: p.Text})
	}
	return out
}

func fromStoryJSON(in storyJSON) (*store.Story, error) {
	st := &store.Story{ID: in.ID, Title: in.Title, CreatedAt: in.CreatedAt}
	for _, p := range in.Pages {
		img, err := decodeImage(p.Image)
		if err != nil {
			return nil, err
		}
		st.Pages = append(st.Pages, store.Page{Index: p.PageIndex, Image: img, Text: p.Text})
	}
	return st, nil
}
