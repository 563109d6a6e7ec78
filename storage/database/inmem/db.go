package inmemdb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rpconcours/concours/core/academy"
	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
)

// DB is an in-memory store shared by the repositories of this package.
// A single lock guards every table so that cascades & multi-row writes are atomic.
type DB struct {
	mutex sync.RWMutex

	users map[string]*user.User

	agencies  map[string]*contest.Agency
	contests  map[string]*contest.Contest // without Modules
	modules   map[string]*contest.Module  // without Questions
	questions map[string]*contest.Question
	options   map[string]*contest.Option

	candidates  map[string]*candidate.Candidate
	responses   map[string]*candidate.Response
	evaluations map[string]*candidate.Evaluation

	academies   map[string]*academy.Academy
	classes     map[string]*academy.Class
	members     map[string]*academy.ClassMember
	acModules   map[string]*academy.Module
	assignments map[string]*academy.Assignment
	resources   map[string]*academy.Resource
	acEvals     map[string]*academy.Evaluation
	grades      map[string]*academy.Grade
}

func Open() *DB {
	return &DB{
		users:       make(map[string]*user.User),
		agencies:    make(map[string]*contest.Agency),
		contests:    make(map[string]*contest.Contest),
		modules:     make(map[string]*contest.Module),
		questions:   make(map[string]*contest.Question),
		options:     make(map[string]*contest.Option),
		candidates:  make(map[string]*candidate.Candidate),
		responses:   make(map[string]*candidate.Response),
		evaluations: make(map[string]*candidate.Evaluation),
		academies:   make(map[string]*academy.Academy),
		classes:     make(map[string]*academy.Class),
		members:     make(map[string]*academy.ClassMember),
		acModules:   make(map[string]*academy.Module),
		assignments: make(map[string]*academy.Assignment),
		resources:   make(map[string]*academy.Resource),
		acEvals:     make(map[string]*academy.Evaluation),
		grades:      make(map[string]*academy.Grade),
	}
}

func newID() string {
	return uuid.New().String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
