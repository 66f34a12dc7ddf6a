package postgres

import (
	"context"
	"embed"
	"encoding"
	"fmt"
	"io/fs"
	"reflect"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

//go:embed migrations/**
var embedMigrations embed.FS

func CreatePostgresDBConnection(logger *logrus.Entry, cfg config.PostgresConfig) (*gorm.DB, error) {
	dbLogger := &GormLogger{
		logger: logger,
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable", cfg.Hostname, cfg.Username, cfg.Password, cfg.Database, cfg.Port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})

	return db, err
}

func TableQuery[E any](db *gorm.DB, tableName string, primaryKeyColumn string) *postgresDBQuerier[E] {
	schema.RegisterSerializer("text", TextSerializer{})
	querier := newPostgresDBQuerier[E](db, tableName, primaryKeyColumn)
	return &querier
}

// TextSerializer persists any encoding.TextMarshaler field as a text column.
type TextSerializer struct{}

func (TextSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) (err error) {
	fieldValue := reflect.New(field.FieldType).Interface()

	unmarshaler, ok := fieldValue.(encoding.TextUnmarshaler)
	if !ok {
		return fmt.Errorf("field type does not implement encoding.TextUnmarshaler")
	}

	var textData []byte
	switch v := dbValue.(type) {
	case string:
		textData = []byte(v)
	case []byte:
		textData = v
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported dbValue type: %T", dbValue)
	}

	if err := unmarshaler.UnmarshalText(textData); err != nil {
		return fmt.Errorf("failed to unmarshal text: %w", err)
	}

	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(fieldValue).Elem())
	return nil
}

func (TextSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if marshaler, ok := fieldValue.(encoding.TextMarshaler); ok {
		text, err := marshaler.MarshalText()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal text: %w", err)
		}
		return string(text), nil
	}

	return nil, fmt.Errorf("fieldValue does not implement encoding.TextMarshaler")
}

type migrator struct {
	logger *logrus.Entry
	Goose  *goose.Provider
}

func NewMigrator(log *logrus.Entry, db *gorm.DB) (*migrator, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("could not get db connection: %w", err)
	}

	migrationsFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("could not access embedded migrations: %w", err)
	}

	m, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}

	return &migrator{
		logger: log.WithField("subsystem-provider", "migrations"),
		Goose:  m,
	}, nil
}

func (m *migrator) MigrateToLatest() error {
	current, target, err := m.Goose.GetVersions(context.Background())
	if err != nil {
		return fmt.Errorf("could not get db version: %w", err)
	}

	m.logger.Infof("current version: %d, target version: %d", current, target)

	results, err := m.Goose.UpTo(context.Background(), target)
	if err != nil {
		return fmt.Errorf("could not migrate db: %w", err)
	}

	m.logger.Infof("migrated %d steps", len(results))
	return nil
}

type postgresDBQuerier[E any] struct {
	*gorm.DB
	tableName        string
	primaryKeyColumn string
}

func newPostgresDBQuerier[E any](db *gorm.DB, tableName string, primaryKeyColumn string) postgresDBQuerier[E] {
	return postgresDBQuerier[E]{
		DB:               db,
		tableName:        tableName,
		primaryKeyColumn: primaryKeyColumn,
	}
}

func (db *postgresDBQuerier[E]) Count(ctx context.Context) (int, error) {
	var count int64
	tx := db.Table(db.tableName).WithContext(ctx).Count(&count)
	if err := tx.Error; err != nil {
		return -1, err
	}

	return int(count), nil
}

func (db *postgresDBQuerier[E]) SelectAll(ctx context.Context, applyFunc func(elem E)) error {
	var elems []E
	batchSize := 50

	res := db.Table(db.tableName).WithContext(ctx).FindInBatches(&elems, batchSize, func(tx *gorm.DB, batch int) error {
		for _, elem := range elems {
			applyFunc(elem)
		}

		return nil
	})

	return res.Error
}

func (db *postgresDBQuerier[E]) SelectAllWhere(ctx context.Context, cond string, args []any, applyFunc func(elem E)) error {
	var elems []E
	batchSize := 50

	res := db.Table(db.tableName).WithContext(ctx).Where(cond, args...).FindInBatches(&elems, batchSize, func(tx *gorm.DB, batch int) error {
		for _, elem := range elems {
			applyFunc(elem)
		}

		return nil
	})

	return res.Error
}

// SelectExists fetches at most one row matching the given column values.
func (db *postgresDBQuerier[E]) SelectExists(ctx context.Context, queryCols map[string]any) (bool, *E, error) {
	var elem E
	tx := db.Table(db.tableName).WithContext(ctx).Where(queryCols).Limit(1).Find(&elem)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	if tx.RowsAffected == 0 {
		return false, nil, nil
	}

	return true, &elem, nil
}

func (db *postgresDBQuerier[E]) Insert(ctx context.Context, elem *E) (*E, error) {
	tx := db.Table(db.tableName).WithContext(ctx).Create(elem)
	if err := tx.Error; err != nil {
		return nil, err
	}

	return elem, nil
}

func (db *postgresDBQuerier[E]) Update(ctx context.Context, elem *E, queryCols map[string]any) (*E, error) {
	tx := db.Table(db.tableName).WithContext(ctx).Where(queryCols).Save(elem)
	if err := tx.Error; err != nil {
		return nil, err
	}

	if tx.RowsAffected != 1 {
		return nil, gorm.ErrRecordNotFound
	}

	return elem, nil
}

// ConditionalUpdate performs a single-statement check-and-set: rows matching
// queryCols AND guardCols get the new values. It reports whether exactly one
// row changed, which is how callers distinguish the winning attempt from a
// losing concurrent duplicate.
func (db *postgresDBQuerier[E]) ConditionalUpdate(ctx context.Context, queryCols map[string]any, guard string, guardArgs []any, updates map[string]any) (bool, error) {
	tx := db.Table(db.tableName).WithContext(ctx).Where(queryCols).Where(guard, guardArgs...).Updates(updates)
	if err := tx.Error; err != nil {
		return false, err
	}

	return tx.RowsAffected == 1, nil
}

func (db *postgresDBQuerier[E]) Delete(ctx context.Context, queryCols map[string]any) error {
	var elem E
	tx := db.Table(db.tableName).WithContext(ctx).Where(queryCols).Delete(&elem)
	if err := tx.Error; err != nil {
		return err
	}

	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (db *postgresDBQuerier[E]) DeleteWhere(ctx context.Context, cond string, args ...any) (int, error) {
	var elem E
	tx := db.Table(db.tableName).WithContext(ctx).Where(cond, args...).Delete(&elem)
	if err := tx.Error; err != nil {
		return 0, err
	}

	return int(tx.RowsAffected), nil
}

// Logrus GORM iface implementation
type GormLogger struct {
	logger *logrus.Entry
}

func (l *GormLogger) LogMode(lvl gormlogger.LogLevel) gormlogger.Interface {
	newlogger := *l
	return &newlogger
}

func (l *GormLogger) Info(ctx context.Context, str string, rest ...interface{}) {
	le := helpers.ConfigureLogger(ctx, l.logger)
	le.Infof(str, rest...)
}

func (l *GormLogger) Warn(ctx context.Context, str string, rest ...interface{}) {
	le := helpers.ConfigureLogger(ctx, l.logger)
	le.Warnf(str, rest...)
}

func (l *GormLogger) Error(ctx context.Context, str string, rest ...interface{}) {
	le := helpers.ConfigureLogger(ctx, l.logger)
	le.Errorf(str, rest...)
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	le := helpers.ConfigureLogger(ctx, l.logger)
	sql, rows := fc()
	if err != nil {
		le.Errorf("Took: %s, Err:%s, SQL: %s, AffectedRows: %d", time.Since(begin).String(), err, sql, rows)
	} else {
		le.Tracef("Took: %s, SQL: %s, AffectedRows: %d", time.Since(begin).String(), sql, rows)
	}
}
