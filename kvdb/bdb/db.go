// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bdb

import (
	"os"
	"time"

	"github.com/coreos/bbolt"

	"github.com/hashvault/custody/kvdb"
)

// convertErr converts some bolt errors to the equivalent kvdb errors.  Not
// all errors are possible to convert and the passed error is returned
// unaltered for those.
func convertErr(err error) error {
	switch err {
	case bbolt.ErrDatabaseNotOpen:
		return kvdb.ErrDbNotOpen
	case bbolt.ErrInvalid:
		return kvdb.ErrInvalid
	case bbolt.ErrTxNotWritable:
		return kvdb.ErrTxNotWritable
	case bbolt.ErrTxClosed:
		return kvdb.ErrTxClosed
	case bbolt.ErrBucketNotFound:
		return kvdb.ErrBucketNotFound
	case bbolt.ErrBucketExists:
		return kvdb.ErrBucketExists
	case bbolt.ErrBucketNameRequired:
		return kvdb.ErrBucketNameRequired
	case bbolt.ErrKeyRequired:
		return kvdb.ErrKeyRequired
	case bbolt.ErrKeyTooLarge:
		return kvdb.ErrKeyTooLarge
	case bbolt.ErrValueTooLarge:
		return kvdb.ErrValueTooLarge
	case bbolt.ErrIncompatibleValue:
		return kvdb.ErrIncompatibleValue
	}
	return err
}

// transaction represents a database transaction.  It can either be read-only
// or read-write and implements the kvdb transaction interfaces.  The
// transaction provides a root bucket against which all read and writes
// occur.
type transaction struct {
	boltTx *bbolt.Tx
}

func (tx *transaction) ReadBucket(key []byte) kvdb.ReadBucket {
	return tx.ReadWriteBucket(key)
}

func (tx *transaction) ReadWriteBucket(key []byte) kvdb.ReadWriteBucket {
	boltBucket := tx.boltTx.Bucket(key)
	if boltBucket == nil {
		return nil
	}
	return (*bucket)(boltBucket)
}

func (tx *transaction) CreateTopLevelBucket(key []byte) (kvdb.ReadWriteBucket, error) {
	boltBucket, err := tx.boltTx.CreateBucketIfNotExists(key)
	if err != nil {
		return nil, convertErr(err)
	}
	return (*bucket)(boltBucket), nil
}

func (tx *transaction) DeleteTopLevelBucket(key []byte) error {
	err := tx.boltTx.DeleteBucket(key)
	if err != nil {
		return convertErr(err)
	}
	return nil
}

func (tx *transaction) Commit() error {
	return convertErr(tx.boltTx.Commit())
}

func (tx *transaction) Rollback() error {
	return convertErr(tx.boltTx.Rollback())
}

// bucket is an internal type used to represent a collection of key/value
// pairs and implements the kvdb bucket interfaces.
type bucket bbolt.Bucket

// Enforce bucket implements the kvdb.ReadWriteBucket interface.
var _ kvdb.ReadWriteBucket = (*bucket)(nil)

func (b *bucket) NestedReadBucket(key []byte) kvdb.ReadBucket {
	return b.NestedReadWriteBucket(key)
}

func (b *bucket) NestedReadWriteBucket(key []byte) kvdb.ReadWriteBucket {
	boltBucket := (*bbolt.Bucket)(b).Bucket(key)
	if boltBucket == nil {
		return nil
	}
	return (*bucket)(boltBucket)
}

func (b *bucket) CreateBucketIfNotExists(key []byte) (kvdb.ReadWriteBucket, error) {
	boltBucket, err := (*bbolt.Bucket)(b).CreateBucketIfNotExists(key)
	if err != nil {
		return nil, convertErr(err)
	}
	return (*bucket)(boltBucket), nil
}

func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	return convertErr((*bbolt.Bucket)(b).ForEach(fn))
}

func (b *bucket) Get(key []byte) []byte {
	return (*bbolt.Bucket)(b).Get(key)
}

func (b *bucket) Put(key, value []byte) error {
	return convertErr((*bbolt.Bucket)(b).Put(key, value))
}

func (b *bucket) Delete(key []byte) error {
	return convertErr((*bbolt.Bucket)(b).Delete(key))
}

// db represents a collection of namespaces which are persisted and
// implements the kvdb.DB interface.  All database access is performed
// through transactions which are obtained through the specific namespace.
type db bbolt.DB

// Enforce db implements the kvdb.DB interface.
var _ kvdb.DB = (*db)(nil)

func (d *db) beginTx(writable bool) (*transaction, error) {
	boltTx, err := (*bbolt.DB)(d).Begin(writable)
	if err != nil {
		return nil, convertErr(err)
	}
	return &transaction{boltTx: boltTx}, nil
}

func (d *db) BeginReadTx() (kvdb.ReadTx, error) {
	return d.beginTx(false)
}

func (d *db) BeginReadWriteTx() (kvdb.ReadWriteTx, error) {
	return d.beginTx(true)
}

func (d *db) Close() error {
	return convertErr((*bbolt.DB)(d).Close())
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// openDB opens the database at the provided path.  kvdb.ErrDbDoesNotExist
// is returned if the database doesn't exist and the create flag is not set.
func openDB(dbPath string, create bool) (kvdb.DB, error) {
	if !create && !fileExists(dbPath) {
		return nil, kvdb.ErrDbDoesNotExist
	}

	boltDB, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: time.Second,
	})
	return (*db)(boltDB), convertErr(err)
}
