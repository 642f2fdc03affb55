package model

// Course is the remote course a listing provider enumerates content for.
type Course struct {
	ID        int    `json:"id"`
	Name      string `json:"fullname"`
	ShortName string `json:"shortname"`
}

// DirName returns the name used for the course's directory on disk.
func (c Course) DirName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ShortName
}
