package db

import (
	"fmt"

	"github.com/sirupsen/logrus"
	rethink "gopkg.in/gorethink/gorethink.v3"
)

const dbNameDefault string = "nia"
const baseDbPoolConnections int = 2
const maxDbPoolConnections int = 20

//Connection contains a handle to the rethinkdb database
type Connection struct {
	session *rethink.Session
	exec    rethink.QueryExecutor
}

//Init creates a new connection pool for the rethinkdb instance at addr
func Init(addr string, dbName string) (*Connection, error) {
	if dbName == "" {
		logrus.Warnf("DB name was not provided, falling back to default `%v`", dbNameDefault)
		dbName = dbNameDefault
	}
	if addr == "" {
		return nil, unavailable("no rethinkdb address was configured")
	}
	//Create new connection pool to db
	session, err := rethink.Connect(rethink.ConnectOpts{
		Address:    addr,
		Database:   dbName,
		InitialCap: baseDbPoolConnections,
		MaxOpen:    maxDbPoolConnections,
	})
	if err != nil {
		logrus.Errorf("Failed to create connection to rethinkdb instance at address %v because %v.", addr, err)
		return nil, unavailable("failed to create connection to rethinkdb instance at address %v because %v", addr, err)
	}

	res := Connection{
		session: session,
		exec:    session,
	}

	//Ensure database and required tables exist, and wait for it all to be ready
	res.CreateDatabase(dbName)
	res.CreateTables()

	return &res, nil
}

//NewConnectionWithExecutor wraps an existing query executor, such as a rethink.Mock.
func NewConnectionWithExecutor(exec rethink.QueryExecutor) *Connection {
	return &Connection{exec: exec}
}

//Close cleanly terminates the database connection
func (db *Connection) Close() error {
	logrus.Info("Terminating DB connection...")
	if db.session == nil {
		return nil
	}
	return db.session.Close()
}

//CreateTables ensures all tables needed exist.
func (db *Connection) CreateTables() {
	_, err := rethink.TableCreate(roleBindingsTable, rethink.TableCreateOpts{
		PrimaryKey: "id",
	}).RunWrite(db.exec)
	if err != nil {
		logrus.Warnf("Failed to create role bindings table due to error %v", err)
	}
	//Wait for all tables
	_, err = rethink.Table(roleBindingsTable).Wait(rethink.WaitOpts{
		WaitFor: "ready_for_writes",
	}).Run(db.exec)
	if err != nil {
		logrus.Warnf("Failed waiting for role bindings table due to error %v", err)
	}
}

//CreateDatabase ensures the nia database exists
func (db *Connection) CreateDatabase(dbName string) {
	_, err := rethink.DBCreate(dbName).RunWrite(db.exec)
	if err != nil {
		logrus.Warnf("Failed to create %v DB due to error %v", dbName, err)
	}
}

func (db *Connection) String() string {
	return fmt.Sprintf("rethinkdb table %v", roleBindingsTable)
}
