package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type seedQuestion struct {
	Text     string
	Type     string
	Required bool
}

type seedCategory struct {
	Name      string
	Questions []seedQuestion
}

func scale(text string) seedQuestion {
	return seedQuestion{Text: text, Type: "scale", Required: true}
}

// DefaultQuestionBank is the starter bank offered to a new organization.
var DefaultQuestionBank = []seedCategory{
	{Name: "Leadership", Questions: []seedQuestion{
		scale("Sets a clear direction for the team"),
		scale("Takes ownership of difficult decisions"),
		scale("Develops and mentors colleagues"),
		scale("Leads by example"),
		scale("Inspires trust and commitment"),
	}},
	{Name: "Communication", Questions: []seedQuestion{
		scale("Expresses ideas clearly in writing"),
		scale("Expresses ideas clearly when speaking"),
		scale("Listens actively to others"),
		scale("Shares information in a timely way"),
		scale("Gives constructive feedback"),
	}},
	{Name: "Technical Skills", Questions: []seedQuestion{
		scale("Has the knowledge the role requires"),
		scale("Produces work of consistent quality"),
		scale("Keeps skills up to date"),
		scale("Applies tools and methods effectively"),
		scale("Shares expertise with others"),
	}},
	{Name: "Teamwork", Questions: []seedQuestion{
		scale("Collaborates across teams"),
		scale("Supports colleagues when they need help"),
		scale("Respects different opinions"),
		scale("Contributes to shared goals"),
		scale("Handles conflict constructively"),
	}},
	{Name: "Problem Solving", Questions: []seedQuestion{
		scale("Identifies the root cause of problems"),
		scale("Weighs alternatives before acting"),
		scale("Makes sound decisions with incomplete information"),
		scale("Learns from mistakes"),
		scale("Follows problems through to resolution"),
	}},
	{Name: "Time Management", Questions: []seedQuestion{
		scale("Meets deadlines"),
		scale("Prioritizes work effectively"),
		scale("Plans ahead"),
		scale("Uses meeting time well"),
		scale("Balances several tasks at once"),
	}},
	{Name: "Innovation", Questions: []seedQuestion{
		scale("Suggests new ideas"),
		scale("Is open to change"),
		scale("Improves existing processes"),
		scale("Experiments and takes calculated risks"),
		scale("Encourages creativity in others"),
	}},
	{Name: "Professionalism", Questions: []seedQuestion{
		scale("Acts with integrity"),
		scale("Keeps commitments"),
		scale("Treats everyone with respect"),
		scale("Maintains confidentiality"),
		scale("Represents the organization well"),
	}},
	{Name: "General", Questions: []seedQuestion{
		{Text: "Would you like to keep working with this person?", Type: "boolean", Required: true},
		{Text: "Does this person meet the expectations of the role?", Type: "boolean", Required: true},
		{Text: "What should this person keep doing?", Type: "text"},
		{Text: "What should this person do differently?", Type: "text"},
	}},
}

type SeedReport struct {
	Categories int `json:"categories"`
	Questions  int `json:"questions"`
}

// SeedQuestionBank inserts DefaultQuestionBank for a tenant. Existing categories and
// questions are matched by name and text, so running it again inserts nothing.
func SeedQuestionBank(ctx context.Context, pool *pgxpool.Pool, tenantID string) (SeedReport, error) {
	var exists bool
	if err := pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)", tenantID).Scan(&exists); err != nil {
		return SeedReport{}, err
	}
	if !exists {
		return SeedReport{}, fmt.Errorf("tenant %s not found", tenantID)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return SeedReport{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var report SeedReport
	for i, category := range DefaultQuestionBank {
		categoryID, created, err := ensureCategory(ctx, tx, tenantID, category.Name, i+1)
		if err != nil {
			return SeedReport{}, err
		}
		if created {
			report.Categories++
		}
		for j, q := range category.Questions {
			tag, err := tx.Exec(ctx, `
        INSERT INTO questions (category_id, text, question_type, max_score, is_required, sort_order)
        VALUES ($1,$2,$3,5,$4,$5)
        ON CONFLICT (category_id, text) DO NOTHING
      `, categoryID, q.Text, q.Type, q.Required, j+1)
			if err != nil {
				return SeedReport{}, fmt.Errorf("seed question %q: %w", q.Text, err)
			}
			report.Questions += int(tag.RowsAffected())
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return SeedReport{}, err
	}
	return report, nil
}

func ensureCategory(ctx context.Context, tx pgx.Tx, tenantID, name string, sortOrder int) (string, bool, error) {
	var id string
	err := tx.QueryRow(ctx, "SELECT id FROM question_categories WHERE tenant_id = $1 AND name = $2", tenantID, name).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}
	err = tx.QueryRow(ctx, "INSERT INTO question_categories (tenant_id, name, sort_order) VALUES ($1, $2, $3) RETURNING id", tenantID, name, sortOrder).Scan(&id)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
