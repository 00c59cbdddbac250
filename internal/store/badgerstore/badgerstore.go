// Package badgerstore implements store.Store on an embedded Badger database.
//
// Records are JSON documents keyed by "<kind>:<id>". Ids are UUIDv7 strings so
// key order is creation order. Name lookups go through "idx:" keys that
// point at the first record created with that name.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/vvakame/libraryql/internal/model"
	"github.com/vvakame/libraryql/internal/store"
)

const (
	authorPrefix         = "author:"
	bookPrefix           = "book:"
	userPrefix           = "user:"
	authorByNamePrefix   = "idx:authors:name:"
	userByUsernamePrefix = "idx:users:username:"

	maxConflictRetries = 5
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db *badger.DB
}

// Open opens the database at path. An empty path keeps everything in memory.
func Open(ctx context.Context, path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
		opts.SyncWrites = true
		opts.CompactL0OnClose = true
	}
	opts.Logger = &logger{logr.FromContextOrDiscard(ctx).WithName("badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}

func (s *Store) CountBooks(ctx context.Context, filter store.BookFilter) (int, error) {
	if filter.IsZero() {
		return s.countKeys([]byte(bookPrefix))
	}
	books, err := s.FindBooks(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(books), nil
}

func (s *Store) FindBooks(_ context.Context, filter store.BookFilter) ([]*model.Book, error) {
	books := make([]*model.Book, 0)
	err := scan(s.db, []byte(bookPrefix), func(book *model.Book) {
		if filter.Matches(book) {
			books = append(books, book)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("find books: %w", err)
	}
	return books, nil
}

func (s *Store) InsertBook(_ context.Context, book *model.Book) error {
	id, err := newID()
	if err != nil {
		return err
	}
	stored := *book
	stored.ID = id

	err = s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte(bookPrefix+id), &stored)
	})
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	book.ID = id
	return nil
}

func (s *Store) CountAuthors(_ context.Context) (int, error) {
	return s.countKeys([]byte(authorPrefix))
}

func (s *Store) FindAuthors(_ context.Context, filter store.AuthorFilter) ([]*model.Author, error) {
	authors := make([]*model.Author, 0)
	err := scan(s.db, []byte(authorPrefix), func(author *model.Author) {
		if filter.Matches(author) {
			authors = append(authors, author)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("find authors: %w", err)
	}
	return authors, nil
}

func (s *Store) FindAuthorByID(_ context.Context, id string) (*model.Author, error) {
	var author *model.Author
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		author, err = getAuthor(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find author %s: %w", id, err)
	}
	return author, nil
}

func (s *Store) FindAuthorByName(_ context.Context, name string) (*model.Author, error) {
	var author *model.Author
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getIndex(txn, []byte(authorByNamePrefix+name))
		if err != nil || id == "" {
			return err
		}
		author, err = getAuthor(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find author by name: %w", err)
	}
	return author, nil
}

func (s *Store) InsertAuthor(_ context.Context, author *model.Author) error {
	id, err := newID()
	if err != nil {
		return err
	}
	stored := *author
	stored.ID = id

	err = s.db.Update(func(txn *badger.Txn) error {
		return putAuthor(txn, &stored)
	})
	if err != nil {
		return fmt.Errorf("insert author: %w", err)
	}
	author.ID = id
	return nil
}

func (s *Store) EnsureAuthor(_ context.Context, name string) (*model.Author, bool, error) {
	for attempt := 0; ; attempt++ {
		author, created, err := s.ensureAuthor(name)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("ensure author: %w", err)
		}
		return author, created, nil
	}
}

func (s *Store) ensureAuthor(name string) (*model.Author, bool, error) {
	var (
		author  *model.Author
		created bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		id, err := getIndex(txn, []byte(authorByNamePrefix+name))
		if err != nil {
			return err
		}
		if id != "" {
			author, err = getAuthor(txn, id)
			if err != nil {
				return err
			}
			if author != nil {
				return nil
			}
		}

		id, err = newID()
		if err != nil {
			return err
		}
		author = &model.Author{ID: id, Name: name}
		created = true
		return putAuthor(txn, author)
	})
	if err != nil {
		return nil, false, err
	}
	return author, created, nil
}

func (s *Store) SetAuthorBorn(_ context.Context, id string, born int) (*model.Author, error) {
	var author *model.Author
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		author, err = getAuthor(txn, id)
		if err != nil || author == nil {
			return err
		}
		author.Born = &born
		return setJSON(txn, []byte(authorPrefix+id), author)
	})
	if err != nil {
		return nil, fmt.Errorf("set author born: %w", err)
	}
	return author, nil
}

func (s *Store) InsertUser(_ context.Context, user *model.User) error {
	id, err := newID()
	if err != nil {
		return err
	}
	stored := *user
	stored.ID = id
	indexKey := []byte(userByUsernamePrefix + user.Username)

	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := getIndex(txn, indexKey)
		if err != nil {
			return err
		}
		if existing != "" {
			return store.ErrDuplicate
		}
		if err := setJSON(txn, []byte(userPrefix+id), &stored); err != nil {
			return err
		}
		return txn.Set(indexKey, []byte(id))
	})
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*model.User, error) {
	var user *model.User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return user, nil
}

func (s *Store) FindUserByUsername(_ context.Context, username string) (*model.User, error) {
	var user *model.User
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getIndex(txn, []byte(userByUsernamePrefix+username))
		if err != nil || id == "" {
			return err
		}
		user, err = getUser(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return user, nil
}

func (s *Store) countKeys(prefix []byte) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", prefix, err)
	}
	return n, nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// putAuthor writes the author and claims the name index if it is free.
func putAuthor(txn *badger.Txn, author *model.Author) error {
	if err := setJSON(txn, []byte(authorPrefix+author.ID), author); err != nil {
		return err
	}
	indexKey := []byte(authorByNamePrefix + author.Name)
	existing, err := getIndex(txn, indexKey)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	return txn.Set(indexKey, []byte(author.ID))
}

func getAuthor(txn *badger.Txn, id string) (*model.Author, error) {
	var author model.Author
	ok, err := getJSON(txn, []byte(authorPrefix+id), &author)
	if err != nil || !ok {
		return nil, err
	}
	return &author, nil
}

func getUser(txn *badger.Txn, id string) (*model.User, error) {
	var user model.User
	ok, err := getJSON(txn, []byte(userPrefix+id), &user)
	if err != nil || !ok {
		return nil, err
	}
	return &user, nil
}

// getIndex returns "" when the index key is absent.
func getIndex(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	var id string
	err = item.Value(func(val []byte) error {
		id = string(val)
		return nil
	})
	return id, err
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func scan[T any](db *badger.DB, prefix []byte, fn func(*T)) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			v := new(T)
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, v)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			fn(v)
		}
		return nil
	})
}
