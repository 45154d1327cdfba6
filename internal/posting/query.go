package posting

// Query describes what a posting source should look for.
type Query struct {
	Titles          []string
	Locations       []string
	Remote          bool
	EmploymentTypes []EmploymentType
	Keywords        []string
	// Limit caps the total number of postings returned. Zero means no limit.
	Limit int
}
