package dto

// WatchtowerEntry is one container report from Watchtower. Older releases
// use "container" instead of "name".
type WatchtowerEntry struct {
	Name      string `json:"name"`
	Container string `json:"container"`
	Status    string `json:"status"`
	Image     string `json:"image"`
}

func (e WatchtowerEntry) ContainerName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Container
}

type JellyseerrMedia struct {
	MediaType  string `json:"media_type"`
	TMDBTitle  string `json:"tmdbTitle"`
	TVDBTitle  string `json:"tvdbTitle"`
	PosterPath string `json:"posterPath"`
}

type JellyseerrRequest struct {
	RequestedBy struct {
		Username string `json:"username"`
	} `json:"requestedBy"`
}

type JellyseerrPayload struct {
	NotificationType string            `json:"notification_type"`
	Subject          string            `json:"subject"`
	Media            JellyseerrMedia   `json:"media"`
	Request          JellyseerrRequest `json:"request"`
}

var jellyseerrEvents = map[string]string{
	"MEDIA_PENDING":   "requested",
	"MEDIA_APPROVED":  "approved",
	"MEDIA_AVAILABLE": "completed",
	"MEDIA_FAILED":    "failed",
	"MEDIA_DECLINED":  "declined",
}

func (p JellyseerrPayload) Event() string {
	if e, ok := jellyseerrEvents[p.NotificationType]; ok {
		return e
	}
	return p.NotificationType
}

func (p JellyseerrPayload) Title() string {
	switch {
	case p.Media.TMDBTitle != "":
		return p.Media.TMDBTitle
	case p.Media.TVDBTitle != "":
		return p.Media.TVDBTitle
	case p.Subject != "":
		return p.Subject
	}
	return "Unknown"
}

func (p JellyseerrPayload) PosterURL() string {
	if p.Media.PosterPath == "" {
		return ""
	}
	return "https://image.tmdb.org/t/p/w500" + p.Media.PosterPath
}
