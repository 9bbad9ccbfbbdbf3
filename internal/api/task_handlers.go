package api

import (
	"net/http"

	"github.com/darmiel/trustbroker/internal/api/presenter"
	"github.com/darmiel/trustbroker/internal/tasks"
)

// handleListTasks responds with the list of tasks and their statuses.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := s.taskManager.ListStatus()
	if status == nil {
		status = []tasks.TaskStatus{}
	}
	presenter.JSON(w, r, status, http.StatusOK)
}

// handleTriggerTask runs a task outside its schedule.
func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	if err := s.taskManager.Trigger(r.PathValue("name")); err != nil {
		presenter.Err(w, r, err)
		return
	}
	presenter.JSON(w, r, TriggerTaskResponse{
		Status: "triggered",
	}, http.StatusAccepted)
}

// handleLogsForTask returns the output of the latest run of a task.
func (s *Server) handleLogsForTask(w http.ResponseWriter, r *http.Request) {
	logs, err := s.taskManager.GetLogs(r.PathValue("name"))
	if err != nil {
		presenter.Err(w, r, err)
		return
	}
	presenter.JSON(w, r, logs, http.StatusOK)
}
