package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// Memory is an in-process Client holding scheduler state in maps. It backs
// the inventory client and stands in for the scheduler in tests.
type Memory struct {
	mu        sync.RWMutex
	pools     map[string]*Pool
	nodes     map[string][]*types.Node
	logins    map[string]types.RemoteLogin
	users     map[string]map[string]NodeUser
	jobs      map[string]*types.Job
	tasks     map[string]map[string]*Task
	schedules map[string]*JobSchedule
	failures  map[string]error
	calls     map[string]int
}

// NewMemory creates an empty in-memory scheduler
func NewMemory() *Memory {
	return &Memory{
		pools:     make(map[string]*Pool),
		nodes:     make(map[string][]*types.Node),
		logins:    make(map[string]types.RemoteLogin),
		users:     make(map[string]map[string]NodeUser),
		jobs:      make(map[string]*types.Job),
		tasks:     make(map[string]map[string]*Task),
		schedules: make(map[string]*JobSchedule),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

func nodeKey(poolID, nodeID string) string {
	return poolID + "/" + nodeID
}

// AddPool registers a pool and its nodes
func (m *Memory) AddPool(pool *Pool, nodes ...*types.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool.ID] = pool
	m.nodes[pool.ID] = append(m.nodes[pool.ID], nodes...)
}

// SetRemoteLogin sets the external login settings of a node
func (m *Memory) SetRemoteLogin(poolID, nodeID string, login types.RemoteLogin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[nodeKey(poolID, nodeID)] = login
}

// PutJob stores a job
func (m *Memory) PutJob(job *types.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

// PutTask stores or replaces a task in a job
func (m *Memory) PutTask(jobID string, task *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks[jobID] == nil {
		m.tasks[jobID] = make(map[string]*Task)
	}
	t := *task
	m.tasks[jobID][task.ID] = &t
}

// PutJobSchedule stores a job schedule
func (m *Memory) PutJobSchedule(s *JobSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
}

// Fail makes every later call to method return err. A nil err clears it.
func (m *Memory) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns how many times method has been called
func (m *Memory) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// enter records a call and returns the injected failure for method, if any.
// Callers must hold m.mu.
func (m *Memory) enter(method string) error {
	m.calls[method]++
	return m.failures[method]
}

func (m *Memory) GetPool(_ context.Context, poolID string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetPool"); err != nil {
		return nil, err
	}
	pool, ok := m.pools[poolID]
	if !ok {
		return nil, NewError(CodePoolNotFound, "pool %s not found", poolID)
	}
	p := *pool
	return &p, nil
}

func (m *Memory) ListNodes(_ context.Context, poolID string) ([]*types.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListNodes"); err != nil {
		return nil, err
	}
	if _, ok := m.pools[poolID]; !ok {
		return nil, NewError(CodePoolNotFound, "pool %s not found", poolID)
	}
	nodes := make([]*types.Node, 0, len(m.nodes[poolID]))
	for _, n := range m.nodes[poolID] {
		node := *n
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

func (m *Memory) GetNode(_ context.Context, poolID, nodeID string) (*types.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetNode"); err != nil {
		return nil, err
	}
	node := m.findNode(poolID, nodeID)
	if node == nil {
		return nil, NewError(CodeNodeNotFound, "node %s not found in pool %s", nodeID, poolID)
	}
	n := *node
	return &n, nil
}

func (m *Memory) findNode(poolID, nodeID string) *types.Node {
	for _, n := range m.nodes[poolID] {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

func (m *Memory) GetRemoteLoginSettings(_ context.Context, poolID, nodeID string) (*types.RemoteLogin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetRemoteLoginSettings"); err != nil {
		return nil, err
	}
	login, ok := m.logins[nodeKey(poolID, nodeID)]
	if !ok {
		return nil, NewError(CodeNodeNotFound, "no remote login settings for node %s in pool %s", nodeID, poolID)
	}
	return &login, nil
}

func (m *Memory) AddNodeUser(_ context.Context, poolID, nodeID string, user NodeUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddNodeUser"); err != nil {
		return err
	}
	if m.findNode(poolID, nodeID) == nil {
		return NewError(CodeNodeNotFound, "node %s not found in pool %s", nodeID, poolID)
	}
	key := nodeKey(poolID, nodeID)
	if _, exists := m.users[key][user.Name]; exists {
		return NewError(CodeUserExists, "the specified node user %s already exists", user.Name)
	}
	if m.users[key] == nil {
		m.users[key] = make(map[string]NodeUser)
	}
	m.users[key][user.Name] = user
	return nil
}

func (m *Memory) DeleteNodeUser(_ context.Context, poolID, nodeID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteNodeUser"); err != nil {
		return err
	}
	key := nodeKey(poolID, nodeID)
	if _, exists := m.users[key][username]; !exists {
		return NewError(CodeNodeUserNotFound, "node user %s not found on %s", username, nodeID)
	}
	delete(m.users[key], username)
	return nil
}

func (m *Memory) GetNodeUser(_ context.Context, poolID, nodeID, username string) (*NodeUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetNodeUser"); err != nil {
		return nil, err
	}
	user, exists := m.users[nodeKey(poolID, nodeID)][username]
	if !exists {
		return nil, NewError(CodeNodeUserNotFound, "node user %s not found on %s", username, nodeID)
	}
	return &user, nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetJob"); err != nil {
		return nil, err
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, NewError(CodeJobNotFound, "job %s not found", jobID)
	}
	j := *job
	return &j, nil
}

func (m *Memory) GetTask(_ context.Context, jobID, taskID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetTask"); err != nil {
		return nil, err
	}
	task, ok := m.tasks[jobID][taskID]
	if !ok {
		return nil, NewError(CodeTaskNotFound, "task %s not found in job %s", taskID, jobID)
	}
	t := *task
	return &t, nil
}

func (m *Memory) ListTasks(_ context.Context, jobID string) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListTasks"); err != nil {
		return nil, err
	}
	if _, ok := m.tasks[jobID]; !ok {
		if _, ok := m.jobs[jobID]; !ok {
			if _, ok := m.pools[jobID]; !ok {
				return nil, NewError(CodeJobNotFound, "job %s not found", jobID)
			}
		}
	}
	tasks := make([]*Task, 0, len(m.tasks[jobID]))
	for _, task := range m.tasks[jobID] {
		t := *task
		tasks = append(tasks, &t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (m *Memory) GetJobSchedule(_ context.Context, scheduleID string) (*JobSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetJobSchedule"); err != nil {
		return nil, err
	}
	s, ok := m.schedules[scheduleID]
	if !ok {
		return nil, NewError(CodeJobScheduleNotFound, "job schedule %s not found", scheduleID)
	}
	js := *s
	return &js, nil
}
