package model

// Author is keyed by name for lookups. BookCount is derived and never stored.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Born *int   `json:"born,omitempty"`
}

// Book references its Author by id.
type Book struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Published int      `json:"published"`
	Genres    []string `json:"genres"`
	AuthorID  string   `json:"author"`
}

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	FavoriteGenre string `json:"favoriteGenre"`
}

// Token is the login result. It is never persisted.
type Token struct {
	Value string `json:"value"`
}
