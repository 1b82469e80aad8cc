package engine

import (
	"context"
	"fmt"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
	"github.com/loamdev/loam/internal/remote"
)

// CreateProject creates a named thread grouping with an optional
// description and custom instruction prompt.
func (e *Engine) CreateProject(ctx context.Context, name string, description, prompt *string, ownerUserID string) (entity.Project, error) {
	p := entity.Project{
		ID:          entity.MustNewID(),
		Name:        name,
		Description: description,
		Prompt:      prompt,
		OwnerUserID: ownerUserID,
	}
	if err := entity.ValidateProject(&p); err != nil {
		return entity.Project{}, err
	}

	if err := e.store.UpsertProject(p); err != nil {
		return entity.Project{}, err
	}
	e.setState(entity.TypeProject, p.ID, StateOptimistic)
	e.emitProjects()

	doc, err := remote.Encode(p)
	if err != nil {
		return p, err
	}
	if _, err := e.gateway.Create(ctx, projectsCollection, p.ID, doc); err != nil {
		e.setState(entity.TypeProject, p.ID, StateDiverged)
		e.logger.Warn("remote project create failed", "project_id", p.ID, "error", err)
		return p, err
	}
	e.setState(entity.TypeProject, p.ID, StateReconciled)
	return p, nil
}

// UpdateProject applies a partial update to a project. Nil fields are
// left untouched.
func (e *Engine) UpdateProject(ctx context.Context, id string, name, description, prompt *string) (entity.Project, error) {
	p, ok := e.store.Project(id)
	if !ok {
		return entity.Project{}, errors.NewNotFound(projectsCollection, id)
	}

	patch := remote.Document{}
	if name != nil {
		p.Name = *name
		patch["name"] = *name
	}
	if description != nil {
		p.Description = description
		patch["description"] = *description
	}
	if prompt != nil {
		p.Prompt = prompt
		patch["prompt"] = *prompt
	}
	if len(patch) == 0 {
		return p, nil
	}
	if err := entity.ValidateProject(&p); err != nil {
		return entity.Project{}, err
	}

	if err := e.store.UpsertProject(p); err != nil {
		return entity.Project{}, err
	}
	e.setState(entity.TypeProject, id, StateOptimistic)
	e.emitProjects()

	if _, err := e.gateway.Update(ctx, projectsCollection, id, patch); err != nil {
		e.setState(entity.TypeProject, id, StateDiverged)
		e.logger.Warn("remote project update failed", "project_id", id, "error", err)
		return p, err
	}
	e.setState(entity.TypeProject, id, StateReconciled)
	return p, nil
}

// DeleteProject removes a project. Its threads are reassigned to
// reassignTo, or detached (project id cleared) when reassignTo is nil;
// a thread is never left pointing at a deleted project, and the threads
// themselves survive. Remote updates fan out per thread and tolerate
// individual failures.
func (e *Engine) DeleteProject(ctx context.Context, id string, reassignTo *string) error {
	if _, ok := e.store.Project(id); !ok {
		return errors.NewNotFound(projectsCollection, id)
	}
	if reassignTo != nil {
		if *reassignTo == id {
			return errors.NewInvalidRequest("cannot reassign threads to the project being deleted")
		}
		if _, ok := e.store.Project(*reassignTo); !ok {
			return errors.NewNotFound(projectsCollection, *reassignTo)
		}
	}

	var affected []entity.Thread
	for _, th := range e.store.Threads() {
		if th.ProjectID != nil && *th.ProjectID == id {
			affected = append(affected, th)
		}
	}

	now := entity.Now()
	for _, th := range affected {
		th.ProjectID = reassignTo
		th.UpdatedAt = now
		if err := e.store.UpsertThread(th); err != nil {
			return err
		}
	}
	if err := e.store.RemoveProject(id); err != nil {
		return err
	}
	e.setState(entity.TypeProject, id, StateOptimistic)
	e.emitProjects()
	if len(affected) > 0 {
		e.emitThreads()
	}

	var patchValue any
	if reassignTo != nil {
		patchValue = *reassignTo
	}

	attempted := 0
	var itemErrors []string
	for _, th := range affected {
		attempted++
		_, err := e.gateway.Update(ctx, threadsCollection, th.ID, remote.Document{
			"project_id": patchValue,
			"updated_at": now,
		})
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			itemErrors = append(itemErrors, fmt.Sprintf("%s/%s: %v", threadsCollection, th.ID, err))
		}
	}
	attempted++
	if err := e.gateway.Delete(ctx, projectsCollection, id); err != nil && !errors.Is(err, errors.ErrNotFound) {
		itemErrors = append(itemErrors, fmt.Sprintf("%s/%s: %v", projectsCollection, id, err))
	}

	if len(itemErrors) > 0 {
		e.setState(entity.TypeProject, id, StateDiverged)
		e.logger.Warn("remote project delete incomplete",
			"project_id", id, "attempted", attempted, "failed", len(itemErrors))
		return errors.NewPartialFailure(attempted, len(itemErrors), itemErrors)
	}
	e.setState(entity.TypeProject, id, StateReconciled)
	return nil
}
