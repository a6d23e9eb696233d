// Package upgrades holds the version-gated migration steps of the LIMS
// product.
package upgrades

import (
	"context"
	"fmt"
	"time"

	"limscore/internal/catalog"
	"limscore/internal/upgrade"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

// Product is the versioned product the steps migrate.
const Product = "bika.lims"

const (
	arWorkflowID       = "bika_ar_workflow"
	typeAttachment     = "Attachment"
	typeClient         = "Client"
	typeAnalysisReq    = "AnalysisRequest"
	retractAR          = "retract_ar"
	invalidate         = "invalidate"
	createPartitions   = "create_partitions"
	childRelationship  = "AnalysisRequestChildAnalysisRequest"
	ancestorsIndex     = "getAncestorsUIDs"
	attrReportOption   = "ReportOption"
	attrTextTitle      = "TextTitle"
	attrInvalidated    = "Invalidated"
	attrParentAR       = "ParentAnalysisRequest"
	reportOptionIgnore = "i"
)

// Step129 returns the 1.2.9 step. It moves attachments that were attached
// to reports to "ignore in report", refreshes the security index of setup
// items kept inside clients, renames retract_ar to invalidate, rebinds
// retest requests to the Invalidated field, and adds the partitioning
// transition and index.
func Step129() upgrade.Step {
	return upgrade.Step{
		Product: Product,
		Version: "1.2.9",
		Title:   "Invalidation and partitioning",
		Procedures: []upgrade.Procedure{
			{Name: "migrate_attachment_report_options", Run: migrateAttachmentReportOptions},
			{Name: "reindex_client_local_owner_permissions", Run: reindexClientLocalOwnerPermissions},
			{Name: "rename_retract_ar_transition", Run: renameRetractARTransition},
			{Name: "rebind_invalidated_ars", Run: rebindInvalidatedARs},
			{Name: "setup_partitioning", Run: setupPartitioning},
		},
	}
}

func migrateAttachmentReportOptions(ctx context.Context, uc *upgrade.Context) error {
	return uc.Update(ctx, func(tx domain.Transaction) error {
		attachments, err := uc.Catalog.SearchObjects(tx, catalog.PortalCatalog, catalog.Query{"portal_type": typeAttachment})
		if err != nil {
			return err
		}
		uc.Logger.Info("migrating 'attach to report' to 'ignore in report'", "attachments", len(attachments))
		for _, obj := range attachments {
			switch obj.StringAttr(attrReportOption) {
			case "a", "":
			default:
				continue
			}
			if _, err := tx.UpdateObject(obj.UID, func(o *domain.Object) error {
				o.SetAttr(attrReportOption, reportOptionIgnore)
				return nil
			}); err != nil {
				return err
			}
			if err := uc.Catalog.ReindexObject(tx, obj.UID); err != nil {
				return err
			}
			uc.Logger.Info("migrated attachment", "title", obj.StringAttr(attrTextTitle))
		}
		return nil
	})
}

func reindexClientLocalOwnerPermissions(ctx context.Context, uc *upgrade.Context) error {
	start := time.Now()
	err := uc.Update(ctx, func(tx domain.Transaction) error {
		clients, err := uc.Catalog.Search(tx, catalog.PortalCatalog, catalog.Query{"portal_type": typeClient})
		if err != nil {
			return err
		}
		uids := make([]string, 0, len(clients))
		for _, c := range clients {
			uids = append(uids, c.UID)
		}
		entries, err := uc.Catalog.Search(tx, catalog.SetupCatalog, catalog.Query{"getClientUID": uids})
		if err != nil {
			return err
		}
		total := len(entries)
		for num, e := range entries {
			uc.Logger.Debug("reindexing permission", "num", num, "total", total, "uid", e.UID)
			if _, err := uc.Catalog.ReindexObjectSecurity(tx, e.UID); err != nil {
				return err
			}
			uc.Progress(num+1, total, "reindexing permission")
		}
		return nil
	})
	if err != nil {
		return err
	}
	uc.Logger.Info("fixing local owner role on client objects",
		"took", fmt.Sprintf("%.2fs", time.Since(start).Seconds()))
	return nil
}

func renameRetractARTransition(ctx context.Context, uc *upgrade.Context) error {
	uc.Logger.Info("renaming 'retract_ar' transition to 'invalidate'")
	return uc.Update(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateWorkflow(arWorkflowID, func(wf *domain.Workflow) error {
			tr, ok := wf.Transitions[invalidate]
			if !ok {
				var err error
				if tr, err = wf.AddTransition(invalidate); err != nil {
					return err
				}
			}
			tr.SetProperties(domain.TransitionProperties{
				Title:      "Invalidate",
				NewStateID: "invalid",
				ActboxName: "Invalidate",
			})
			tr.Guard = &domain.Guard{
				Permissions: []string{"BIKA: Retract"},
				Expression:  "guard_cancelled_object",
			}
			wf.ReplaceStateTransition(retractAR, invalidate)
			if wf.HasTransition(retractAR) {
				wf.DeleteTransitions(retractAR)
			}
			return nil
		})
		return err
	})
}

func rebindInvalidatedARs(ctx context.Context, uc *upgrade.Context) error {
	uc.Logger.Info("rebinding retracted/invalidated requests")
	var toRemove []domain.Relationship
	num, dangling := 0, 0
	err := uc.Update(ctx, func(tx domain.Transaction) error {
		toRemove = toRemove[:0]
		dangling = 0
		relations := tx.ListRelationships(childRelationship)
		total := len(relations)
		for i, rel := range relations {
			num = i + 1
			retest, ok := tx.FindObject(rel.TargetUID)
			_, hasSource := tx.FindObject(rel.SourceUID)
			if !ok || !hasSource {
				// Nothing left to rebind; drop the relation with the rest.
				uc.Logger.Warn("removing dangling relationship",
					"id", rel.ID, "source", rel.SourceUID, "target", rel.TargetUID)
				toRemove = append(toRemove, rel)
				dangling++
				continue
			}
			if _, err := tx.UpdateObject(retest.UID, func(o *domain.Object) error {
				o.SetAttr(attrInvalidated, rel.SourceUID)
				o.SetAttr(attrParentAR, nil)
				return nil
			}); err != nil {
				return err
			}
			if err := uc.Catalog.ReindexObject(tx, retest.UID); err != nil {
				return err
			}
			toRemove = append(toRemove, rel)
			uc.Progress(num, total, "rebinding invalidated requests")
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = uc.Update(ctx, func(tx domain.Transaction) error {
		for _, rel := range toRemove {
			if err := tx.DeleteRelationship(rel.ContainerUID, rel.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	uc.Logger.Info("rebound invalidated requests", "num", num, "dangling", dangling)
	return nil
}

func setupPartitioning(ctx context.Context, uc *upgrade.Context) error {
	uc.Logger.Info("setting up the enhanced partitioning system")
	if err := addCreatePartitionTransition(ctx, uc); err != nil {
		return err
	}
	return addPartitioningIndexes(ctx, uc)
}

// preReceptionStates are the request states whose role mappings are
// refreshed once create_partitions exists.
var preReceptionStates = []string{
	"sampled", "scheduled_sampling", "to_be_preserved",
	"to_be_sampled", "sample_due", "sample_received",
}

func addCreatePartitionTransition(ctx context.Context, uc *upgrade.Context) error {
	uc.Logger.Info("adding partitioning workflow")
	return uc.Update(ctx, func(tx domain.Transaction) error {
		update := false
		wf, err := tx.UpdateWorkflow(arWorkflowID, func(wf *domain.Workflow) error {
			tr, ok := wf.Transitions[createPartitions]
			if !ok {
				update = true
				var err error
				if tr, err = wf.AddTransition(createPartitions); err != nil {
					return err
				}
			}
			tr.SetProperties(domain.TransitionProperties{
				Title:      "Create partitions",
				NewStateID: "sample_received",
				ActboxName: "Create partitions",
			})
			tr.Guard = &domain.Guard{
				Permissions: []string{"BIKA: Edit Results"},
				Expression:  "guard_handler:" + createPartitions,
			}
			state, ok := wf.States["sample_received"]
			if !ok {
				return fmt.Errorf("workflow %s has no sample_received state", wf.ID)
			}
			if !state.HasTransition(createPartitions) {
				update = true
				state.Transitions = append(state.Transitions, createPartitions)
			}
			return nil
		})
		if err != nil || !update {
			return err
		}
		ars, err := uc.Catalog.Search(tx, catalog.AnalysisRequestListing, catalog.Query{
			"portal_type": typeAnalysisReq,
			"states":      preReceptionStates,
		})
		if err != nil {
			return err
		}
		total := len(ars)
		for i, ar := range ars {
			changed, err := workflow.UpdateRoleMappingsFor(tx, wf, ar.UID)
			if err != nil {
				return err
			}
			if changed {
				if err := uc.Catalog.ReindexObject(tx, ar.UID); err != nil {
					return err
				}
			}
			uc.Progress(i+1, total, "updating role mappings")
		}
		return nil
	})
}

func addPartitioningIndexes(ctx context.Context, uc *upgrade.Context) error {
	uc.Logger.Info("adding partitioning indexes")
	_, err := uc.AddIndex(ctx, catalog.AnalysisListing, ancestorsIndex, domain.KeywordIndex)
	return err
}
