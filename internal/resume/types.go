package resume

// Resume is the structured résumé accepted by the render and assistant endpoints.
// Field names follow the JSON the browser client and the extraction model exchange.
type Resume struct {
	PersonalInfo PersonalInfo  `json:"personalInfo"`
	Summary      string        `json:"summary,omitempty"`
	Experience   []Experience  `json:"experience"`
	Education    []Education   `json:"education"`
	Skills       []Skill       `json:"skills"`
	Projects     []Project     `json:"projects,omitempty"`
	Certificates []Certificate `json:"certificates,omitempty"`
}

// PersonalInfo 描述简历抬头的联系方式。
type PersonalInfo struct {
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Location  string `json:"location"`
	LinkedIn  string `json:"linkedin,omitempty"`
	Portfolio string `json:"portfolio,omitempty"`
	GitHub    string `json:"github,omitempty"`
}

// Experience is one employment entry. Description holds bullet points in display order.
type Experience struct {
	ID          string   `json:"id"`
	Company     string   `json:"company"`
	Position    string   `json:"position"`
	Location    string   `json:"location"`
	StartDate   string   `json:"startDate"`
	EndDate     string   `json:"endDate"`
	Current     bool     `json:"current"`
	Description []string `json:"description"`
}

type Education struct {
	ID          string `json:"id"`
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
	Field       string `json:"field"`
	Location    string `json:"location"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	GPA         string `json:"gpa,omitempty"`
}

type Skill struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Items    []string `json:"items"`
}

type Project struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
	Link         string   `json:"link,omitempty"`
}

type Certificate struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Issuer string `json:"issuer"`
	Date   string `json:"date"`
	Link   string `json:"link,omitempty"`
}

// HasContact reports whether any contact detail besides the name is present.
func (p PersonalInfo) HasContact() bool {
	return p.Email != "" || p.Phone != "" || p.Location != "" || p.LinkedIn != "" || p.Portfolio != "" || p.GitHub != ""
}
