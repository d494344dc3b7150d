package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Text decodes a JSON string, number or null into a string. The catalog API
// is inconsistent about numeric fields such as age and height.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string { return string(t) }

// Property is an {id, name} pair used for genres, studios, series and directors.
type Property struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type StarRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Sample struct {
	ID        string `json:"id"`
	Alt       string `json:"alt"`
	Src       string `json:"src"`
	Thumbnail string `json:"thumbnail"`
}

// Magnet covers both shapes the API returns: embedded in a movie (name/date)
// and from the magnets endpoint (title/shareDate).
type Magnet struct {
	ID          string `json:"id"`
	Link        string `json:"link"`
	IsHD        bool   `json:"isHD"`
	Title       string `json:"title"`
	Name        string `json:"name"`
	Size        string `json:"size"`
	NumberSize  *int64 `json:"numberSize"`
	ShareDate   string `json:"shareDate"`
	Date        string `json:"date"`
	HasSubtitle bool   `json:"hasSubtitle"`
}

func (m Magnet) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Title
}

func (m Magnet) DisplayDate() string {
	if m.Date != "" {
		return m.Date
	}
	return m.ShareDate
}

type Movie struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	TranslatedTitle       string     `json:"translated_title"`
	Img                   string     `json:"img"`
	Date                  string     `json:"date"`
	VideoLength           Text       `json:"videoLength"`
	Description           string     `json:"description"`
	TranslatedDescription string     `json:"translated_description"`
	Director              *Property  `json:"director"`
	Producer              *Property  `json:"producer"`
	Publisher             *Property  `json:"publisher"`
	Series                *Property  `json:"series"`
	Genres                []Property `json:"genres"`
	Stars                 []StarRef  `json:"stars"`
	Magnets               []Magnet   `json:"magnets"`
	Samples               []Sample   `json:"samples"`
	Gid                   Text       `json:"gid"`
	Uc                    Text       `json:"uc"`
}

type MovieSummary struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	TranslatedTitle string   `json:"translated_title"`
	Img             string   `json:"img"`
	Date            string   `json:"date"`
	Tags            []string `json:"tags"`
}

type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	HasNextPage bool  `json:"hasNextPage"`
	NextPage    *int  `json:"nextPage"`
	Pages       []int `json:"pages"`
}

type MovieList struct {
	Movies     []MovieSummary `json:"movies"`
	Pagination Pagination     `json:"pagination"`
	Keyword    string         `json:"keyword,omitempty"`
}

type Star struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	Birthday   Text   `json:"birthday"`
	Age        Text   `json:"age"`
	Height     Text   `json:"height"`
	Bust       Text   `json:"bust"`
	Waistline  Text   `json:"waistline"`
	Hipline    Text   `json:"hipline"`
	Birthplace Text   `json:"birthplace"`
	Hobby      Text   `json:"hobby"`
}

type StarList struct {
	Stars []StarRef `json:"stars"`
}

// ListQuery selects between /movies and /movies/search. Zero fields are omitted.
type ListQuery struct {
	Keyword     string
	Page        int
	Magnet      string
	Type        string
	FilterType  string
	FilterValue string
}

func (q ListQuery) path() string {
	if q.Keyword != "" {
		return "/movies/search"
	}
	return "/movies"
}

func (q ListQuery) values() map[string]string {
	v := map[string]string{}
	if q.Page > 0 {
		v["page"] = strconv.Itoa(q.Page)
	}
	for k, s := range map[string]string{
		"keyword":     q.Keyword,
		"magnet":      q.Magnet,
		"type":        q.Type,
		"filterType":  q.FilterType,
		"filterValue": q.FilterValue,
	} {
		if s != "" {
			v[k] = s
		}
	}
	return v
}

type MagnetQuery struct {
	Gid       string
	Uc        string
	SortBy    string
	SortOrder string
}

func (q MagnetQuery) values() map[string]string {
	v := map[string]string{}
	for k, s := range map[string]string{
		"gid":       q.Gid,
		"uc":        q.Uc,
		"sortBy":    q.SortBy,
		"sortOrder": q.SortOrder,
	} {
		if s != "" {
			v[k] = s
		}
	}
	return v
}
