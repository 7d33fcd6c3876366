package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const groupColumns = "id, name, idnumber, description, contextid"
const userColumns = "id, auth, username, idnumber, firstname, lastname, email, dn"

var groupFieldColumns = map[string]string{
	"name":     "name",
	"idnumber": "idnumber",
}

var userFieldColumns = map[string]string{
	"username": "username",
	"idnumber": "idnumber",
	"email":    "email",
	"dn":       "dn",
}

type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

func NewSQLStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*SQLStore, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With(zap.String("component", "store"), zap.String("driver", cfg.Driver)),
	}

	if cfg.EnsureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// EnsureSchema creates the tables the store needs when they are missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	s.logger.Debug("Schema ensured")
	return nil
}

func (s *SQLStore) GetGroupByField(ctx context.Context, field, value string) (*Group, error) {
	col, ok := groupFieldColumns[field]
	if !ok {
		return nil, fmt.Errorf("group field %q: %w", field, ErrInvalidField)
	}

	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT "+groupColumns+" FROM cohort WHERE LOWER("+col+") = LOWER(?) ORDER BY id"), value)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s=%s: %w", field, value, ErrNotFound)
	}
	return g, err
}

func (s *SQLStore) ListGroups(ctx context.Context) ([]*Group, error) {
	return s.queryGroups(ctx, "SELECT "+groupColumns+" FROM cohort ORDER BY id")
}

func (s *SQLStore) CreateGroup(ctx context.Context, g *Group) (int64, error) {
	return s.insert(ctx, "cohort",
		[]string{"name", "idnumber", "description", "contextid"},
		g.Name, g.IDNumber, g.Description, g.ContextID)
}

func (s *SQLStore) UpdateGroup(ctx context.Context, g *Group) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		"UPDATE cohort SET name = ?, idnumber = ?, description = ?, contextid = ? WHERE id = ?"),
		g.Name, g.IDNumber, g.Description, g.ContextID, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update group %d: %w", g.ID, err)
	}
	return nil
}

func (s *SQLStore) GroupMembers(ctx context.Context, groupID int64, userField string) (map[int64]string, error) {
	col, ok := userFieldColumns[userField]
	if !ok {
		return nil, fmt.Errorf("user field %q: %w", userField, ErrInvalidField)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		"SELECT u.id, u."+col+" FROM cohort_members m JOIN users u ON u.id = m.userid WHERE m.cohortid = ?"), groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	members := make(map[int64]string)
	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		members[id] = value
	}
	return members, rows.Err()
}

func (s *SQLStore) UserGroups(ctx context.Context, userID int64) ([]*Group, error) {
	return s.queryGroups(ctx,
		"SELECT c.id, c.name, c.idnumber, c.description, c.contextid FROM cohort c "+
			"JOIN cohort_members m ON m.cohortid = c.id WHERE m.userid = ? ORDER BY c.id", userID)
}

func (s *SQLStore) AddMember(ctx context.Context, groupID, userID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT 1 FROM cohort_members WHERE cohortid = ? AND userid = ?"), groupID, userID).Scan(&one)
	switch {
	case err == nil:
		return ErrAlreadyMember
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check membership: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(
		"INSERT INTO cohort_members (cohortid, userid, timeadded) VALUES (?, ?, ?)"),
		groupID, userID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to add user %d to group %d: %w", userID, groupID, err)
	}
	return nil
}

func (s *SQLStore) RemoveMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		"DELETE FROM cohort_members WHERE cohortid = ? AND userid = ?"), groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove user %d from group %d: %w", userID, groupID, err)
	}
	return nil
}

func (s *SQLStore) GetUserByField(ctx context.Context, field, value string) (*User, error) {
	col, ok := userFieldColumns[field]
	if !ok {
		return nil, fmt.Errorf("user field %q: %w", field, ErrInvalidField)
	}

	u := &User{}
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT "+userColumns+" FROM users WHERE LOWER("+col+") = LOWER(?) ORDER BY id"), value).
		Scan(&u.ID, &u.Auth, &u.Username, &u.IDNumber, &u.FirstName, &u.LastName, &u.Email, &u.DN)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s=%s: %w", field, value, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, u *User) (int64, error) {
	return s.insert(ctx, "users",
		[]string{"auth", "username", "idnumber", "firstname", "lastname", "email", "dn"},
		u.Auth, u.Username, u.IDNumber, u.FirstName, u.LastName, u.Email, u.DN)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) insert(ctx context.Context, table string, columns []string, args ...any) (int64, error) {
	query, returning := s.dialect.insertReturningID(table, columns)
	if returning {
		var id int64
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

func (s *SQLStore) queryGroups(ctx context.Context, query string, args ...any) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*Group, error) {
	g := &Group{}
	if err := row.Scan(&g.ID, &g.Name, &g.IDNumber, &g.Description, &g.ContextID); err != nil {
		return nil, err
	}
	return g, nil
}
