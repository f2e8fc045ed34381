package epidemic

// State is the disease state of one person.
type State uint8

const (
	// Susceptible people can be infected by contact.
	Susceptible State = iota
	// Latent people are infected but not yet contagious.
	Latent
	// Contagious people spread the disease without showing symptoms.
	Contagious
	// Symptomatic people are contagious and show symptoms.
	Symptomatic
	// Recovered people are immune for the rest of the run.
	Recovered
	// Dead people take no further part in the run.
	Dead

	numStates
)

var stateNames = [numStates]string{
	Susceptible: "susceptible",
	Latent:      "latent",
	Contagious:  "contagious",
	Symptomatic: "symptomatic",
	Recovered:   "recovered",
	Dead:        "dead",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return "unknown"
}

// Infected reports whether s is one of the infection states.
func (s State) Infected() bool {
	return s == Latent || s == Contagious || s == Symptomatic
}

// Counts is a census of a group (or of several groups added together).
type Counts struct {
	Susceptible  int `json:"susceptible"`
	Latent       int `json:"latent"`
	Contagious   int `json:"contagious"`
	Symptomatic  int `json:"symptomatic"`
	Recovered    int `json:"recovered"`
	Dead         int `json:"dead"`
	Hospitalized int `json:"hospitalized"`
}

// Infected is the number of people currently carrying the disease.
func (c Counts) Infected() int {
	return c.Latent + c.Contagious + c.Symptomatic
}

// Total is the population the census covers.
func (c Counts) Total() int {
	return c.Susceptible + c.Infected() + c.Recovered + c.Dead
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Susceptible:  c.Susceptible + o.Susceptible,
		Latent:       c.Latent + o.Latent,
		Contagious:   c.Contagious + o.Contagious,
		Symptomatic:  c.Symptomatic + o.Symptomatic,
		Recovered:    c.Recovered + o.Recovered,
		Dead:         c.Dead + o.Dead,
		Hospitalized: c.Hospitalized + o.Hospitalized,
	}
}
