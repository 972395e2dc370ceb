package models

// ProjectState is the lifecycle position of a project record, mirroring the
// on-chain datum. States advance forward under normal operation.
type ProjectState int

const (
	ProjectInitialized ProjectState = 0
	ProjectDistributed ProjectState = 1
	ProjectCertified   ProjectState = 2
	ProjectClosed      ProjectState = 3
)

// String returns the human name of the state.
func (s ProjectState) String() string {
	switch s {
	case ProjectInitialized:
		return "initialized"
	case ProjectDistributed:
		return "distributed"
	case ProjectCertified:
		return "certified"
	case ProjectClosed:
		return "closed"
	}
	return "unknown"
}

// TokenInfo describes the token a project mints and distributes.
type TokenInfo struct {
	PolicyID    string `json:"policy_id"`
	TokenName   string `json:"token_name"`
	TotalSupply uint64 `json:"total_supply"`
}

// Stakeholder is a party holding a share of a project's token supply.
type Stakeholder struct {
	ID            string `json:"id"`
	PKH           string `json:"pkh"`
	Participation uint64 `json:"participation"`
	Claimed       bool   `json:"claimed"`
}

// Certification is one certification milestone of a project. The projected
// date/quantity are fixed up front; the real fields fill in as certifications
// actually land and may only grow afterwards.
type Certification struct {
	Date         uint64 `json:"date"`
	Quantity     uint64 `json:"quantity"`
	RealDate     uint64 `json:"real_date"`
	RealQuantity uint64 `json:"real_quantity"`
}

// ProjectRecord is the off-chain mirror of the on-chain project datum.
type ProjectRecord struct {
	State          ProjectState    `json:"state"`
	Token          TokenInfo       `json:"token"`
	Stakeholders   []Stakeholder   `json:"stakeholders"`
	Certifications []Certification `json:"certifications"`
}

// TotalParticipation sums the participation of all stakeholders.
func (p *ProjectRecord) TotalParticipation() uint64 {
	var total uint64
	for _, s := range p.Stakeholders {
		total += s.Participation
	}
	return total
}

// MaxProtocolAdmins bounds the admin set of a protocol record; the on-chain
// validator enforces the same limit.
const MaxProtocolAdmins = 10

// ProtocolRecord is the off-chain mirror of the on-chain protocol datum.
type ProtocolRecord struct {
	Fee      uint64   `json:"fee"`
	OracleID string   `json:"oracle_id"`
	Admins   []string `json:"admins"`
	Projects []string `json:"projects"`
}
