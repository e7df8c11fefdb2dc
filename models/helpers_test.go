package models

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	store *cache.MemoryStore
	layer *cache.Layer
	files billy.Filesystem
	admin *User
	owner *User
}

// setupTestEnv points the package at a fresh in-memory database, cache and blob store.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	require.NoError(t, err)
	config.SetDB(db)
	config.SetRedisDB(nil)
	MigrateTable()

	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)
	layer := cache.NewLayer(store, cache.TTLs{
		Entity:     time.Minute,
		Listing:    time.Minute,
		Structural: time.Minute,
		Degraded:   time.Second,
	}, config.GetLogger())
	UseCache(layer)
	UseSearchIndex(nil)

	files := memfs.New()
	UseBlobStore(storage.NewLocalStore(files, "http://docs.test"))

	env := &testEnv{db: db, store: store, layer: layer, files: files}
	env.admin, err = CreateUser(context.Background(), &NewUser{Username: "admin", Name: "Admin", Password: "secret-pass", Role: UserRoleAdmin})
	require.NoError(t, err)
	env.owner, err = CreateUser(context.Background(), &NewUser{Username: "owner", Name: "Owner", Password: "secret-pass"})
	require.NoError(t, err)
	return env
}

func asUser(user *User) context.Context {
	return utils.SetCurrentUserInContext(context.Background(), user.CurrentUser())
}

func (env *testEnv) adminCtx() context.Context {
	return asUser(env.admin)
}

func (env *testEnv) ownerCtx() context.Context {
	return asUser(env.owner)
}

func (env *testEnv) direction(t *testing.T, code string) *Direction {
	t.Helper()
	d, err := CreateDirection(env.adminCtx(), &NewDirection{Name: "Direction " + code, Code: code})
	require.NoError(t, err)
	return d
}

func (env *testEnv) process(t *testing.T, code string, directionId int) *SupportProcess {
	t.Helper()
	p, err := CreateSupportProcess(env.adminCtx(), &NewSupportProcess{Name: "Process " + code, Code: code, DirectionId: utils.Ptr(directionId)})
	require.NoError(t, err)
	return p
}

type docOption func(*NewDocument)

func withTags(tags ...string) docOption {
	return func(d *NewDocument) { d.Tags = tags }
}

func withKind(kind string) docOption {
	return func(d *NewDocument) { d.Kind = kind }
}

func withClassification(c Classification) docOption {
	return func(d *NewDocument) { d.Classification = c }
}

func (env *testEnv) document(t *testing.T, title string, process *SupportProcess, opts ...docOption) *Document {
	t.Helper()
	return env.documentFile(t, title, process, title+".txt", opts...)
}

func (env *testEnv) documentFile(t *testing.T, title string, process *SupportProcess, fileName string, opts ...docOption) *Document {
	t.Helper()
	input := &NewDocument{
		Title:            title,
		DirectionId:      *process.DirectionId,
		SupportProcessId: process.ID,
	}
	for _, opt := range opts {
		opt(input)
	}
	d, err := CreateDocument(env.ownerCtx(), input, storage.Upload{
		FileName: fileName,
		Content:  strings.NewReader("content of " + title),
	})
	require.NoError(t, err)
	return d
}

// storedFiles lists every object in the blob store.
func (env *testEnv) storedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := util.Walk(env.files, "documents", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}
