package repo

import (
	"context"
	"database/sql"

	"weave/internal/domain"
)

const volunteerColumns = `id,name,COALESCE(email,''),skills_json,availability_json,lat,lng,reliability_score,created_at`

func scanVolunteer(row scanner) (domain.Volunteer, error) {
	var (
		v                  domain.Volunteer
		skills, avail      string
		lat, lng, relScore sql.NullFloat64
	)
	err := row.Scan(&v.ID, &v.Name, &v.Email, &skills, &avail, &lat, &lng, &relScore, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Skills = decodeStrings(skills)
	v.Availability = decodeStrings(avail)
	if lat.Valid && lng.Valid {
		v.Location = &domain.Location{Lat: nullFloatPtr(lat), Lng: nullFloatPtr(lng)}
	}
	v.ReliabilityScore = nullFloatPtr(relScore)
	return v, nil
}

func (r Repo) InsertVolunteer(ctx context.Context, v domain.Volunteer) error {
	if v.Skills == nil {
		v.Skills = []string{}
	}
	if v.Availability == nil {
		v.Availability = []string{}
	}
	var lat, lng any
	if v.Location.HasCoordinates() {
		lat, lng = *v.Location.Lat, *v.Location.Lng
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO volunteers(id,name,email,skills_json,availability_json,lat,lng,reliability_score,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		v.ID, v.Name, nullable(v.Email), encodeJSON(v.Skills), encodeJSON(v.Availability), lat, lng,
		floatPtrArg(v.ReliabilityScore), v.CreatedAt)
	return err
}

func (r Repo) GetVolunteer(ctx context.Context, id string) (domain.Volunteer, error) {
	return scanVolunteer(r.DB.QueryRowContext(ctx, `SELECT `+volunteerColumns+` FROM volunteers WHERE id=?`, id))
}

// ListVolunteers returns volunteers in registration order.
func (r Repo) ListVolunteers(ctx context.Context, limit int) ([]domain.Volunteer, error) {
	query := `SELECT ` + volunteerColumns + ` FROM volunteers ORDER BY created_at ASC, rowid ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Volunteer{}
	for rows.Next() {
		v, err := scanVolunteer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
