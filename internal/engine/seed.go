package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kintsugi/internal/domain"
	"kintsugi/internal/events"
)

// seedAssignments is the canonical starter set. Every entry starts active
// with no claimant.
var seedAssignments = []AssignmentCreateOptions{
	{
		Title:       "Code Warriors Network Security Audit",
		Description: "Audit and reinforce security protocols for Code Warriors infrastructure. Review firewall configurations and implement zero-trust architecture for the hackathon network.",
		Type:        "digital",
	},
	{
		Title:       "Field Reconnaissance - Connaught Place",
		Description: "Survey the central business district for potential security vulnerabilities. Document entry points and surveillance coverage in the heart of Delhi.",
		Type:        "physical",
		Location:    &domain.Location{Lat: 28.6315, Lng: 77.2167, Address: "Connaught Place, New Delhi, India"},
	},
	{
		Title:       "Encrypted Communication Protocol",
		Description: "Develop and test new end-to-end encryption system for secure team communications. Implement key rotation mechanism.",
		Type:        "digital",
	},
	{
		Title:       "Asset Recovery - DPS Vasant Kunj Campus",
		Description: "Retrieve classified equipment from secure storage facility at DPS Vasant Kunj. Verify inventory and transport to secure location for Code Warriors hackathon setup.",
		Type:        "physical",
		Location:    &domain.Location{Lat: 28.5244, Lng: 77.1588, Address: "DPS Vasant Kunj, Sector C, Vasant Kunj, New Delhi, India"},
	},
	{
		Title:       "Network Penetration Testing",
		Description: "Conduct authorized penetration test on client infrastructure. Document vulnerabilities and provide remediation recommendations.",
		Type:        "digital",
	},
	{
		Title:       "Surveillance Equipment Deployment - India Gate",
		Description: "Install monitoring equipment at designated coordinates near India Gate. Ensure proper concealment and test signal transmission for the operation.",
		Type:        "physical",
		Location:    &domain.Location{Lat: 28.6129, Lng: 77.2295, Address: "India Gate, Rajpath, New Delhi, India"},
	},
	{
		Title:       "Database Migration",
		Description: "Migrate legacy systems to new secure infrastructure. Ensure zero downtime and data integrity throughout process.",
		Type:        "digital",
	},
	{
		Title:       "Dead Drop Verification - Qutub Minar",
		Description: "Verify security of designated exchange location near Qutub Minar. Check for surveillance and establish backup protocols for Code Warriors intel exchange.",
		Type:        "physical",
		Location:    &domain.Location{Lat: 28.5244, Lng: 77.1855, Address: "Qutub Minar Complex, Mehrauli, New Delhi, India"},
	},
	{
		Title:       "Code Review - Authentication Module",
		Description: "Security audit of authentication system. Identify potential vulnerabilities in session management and token handling.",
		Type:        "digital",
	},
	{
		Title:       "Safe House Inspection - Hauz Khas Village",
		Description: "Conduct security assessment of backup facility in Hauz Khas. Verify emergency protocols and supply inventory for Code Warriors operations.",
		Type:        "physical",
		Location:    &domain.Location{Lat: 28.5494, Lng: 77.1925, Address: "Hauz Khas Village, New Delhi, India"},
	},
	{
		Title:       "Warrior Protocol Activation - DPS Command Center",
		Description: "Activate the Warrior Protocol at DPS Vasant Kunj command center. Initialize all systems for Code Warriors hackathon and verify operational readiness.",
		Type:        "physical",
		Location:    &domain.Location{Lat: 28.5244, Lng: 77.1588, Address: "DPS Vasant Kunj, Sector C, Vasant Kunj, New Delhi, India"},
	},
}

// SeedAssignments loads the starter assignments. A no-op if any assignment
// already exists, so repeated runs are safe.
func (e Engine) SeedAssignments(ctx context.Context, actorID string) (int, error) {
	count, err := e.Repo.CountAssignments(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	for _, opts := range seedAssignments {
		a := domain.Assignment{
			ID:          uuid.New().String(),
			Title:       opts.Title,
			Description: opts.Description,
			Type:        opts.Type,
			Status:      "active",
			Location:    opts.Location,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
			return 0, fmt.Errorf("seed %q: %w", a.Title, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "assignment.seeded", "assignment", "", actorID, events.EventPayload{"count": len(seedAssignments)}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(seedAssignments), nil
}
