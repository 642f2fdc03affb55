package moodle

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/glorpus-work/coursedl/internal/logger"
	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/fsutil"
	"github.com/glorpus-work/coursedl/pkg/model"
)

// contentPayload is one file entry inside a module.
type contentPayload struct {
	Type         string `json:"type"`
	Filename     string `json:"filename"`
	Filepath     string `json:"filepath"`
	FileURL      string `json:"fileurl"`
	Filesize     int64  `json:"filesize"`
	TimeModified int64  `json:"timemodified"`
	ContentHash  string `json:"contenthash"`
}

// modulePayload is one activity inside a section.
type modulePayload struct {
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	ModName  string           `json:"modname"`
	URL      string           `json:"url"`
	Contents []contentPayload `json:"contents"`
}

// sectionPayload is one section of a course's contents.
type sectionPayload struct {
	ID      int             `json:"id"`
	Name    string          `json:"name"`
	Modules []modulePayload `json:"modules"`
}

// moduleHandler turns one module into descriptors. ctx carries the course
// and section the module sits in.
type moduleHandler func(ctx listingContext, mod modulePayload) []model.FileDescriptor

type listingContext struct {
	course       model.Course
	section      sectionPayload
	foldersAsZip bool
	baseURL      string
}

// moduleHandlers is the closed set of module types the tool understands.
// Every other type is skipped with a debug log.
var moduleHandlers = map[string]moduleHandler{
	"resource":  fileModules,
	"folder":    folderModules,
	"url":       urlModule,
	"kalvidres": videoModule,
}

// Courses lists the courses the configured user is enrolled in.
func (c *Client) Courses(ctx context.Context) ([]model.Course, error) {
	if c.userID == 0 {
		if _, err := c.FetchSiteInfo(ctx); err != nil {
			return nil, err
		}
	}
	params := url.Values{}
	params.Set("userid", strconv.Itoa(c.userID))

	var courses []model.Course
	if err := c.call(ctx, "core_enrol_get_users_courses", params, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// ListEntries produces a fresh descriptor listing for one course.
func (c *Client) ListEntries(ctx context.Context, course model.Course) ([]model.FileDescriptor, error) {
	params := url.Values{}
	params.Set("courseid", strconv.Itoa(course.ID))

	var sections []sectionPayload
	if err := c.call(ctx, "core_course_get_contents", params, &sections); err != nil {
		return nil, errors.Wrapf(err, "listing course %d", course.ID)
	}

	var out []model.FileDescriptor
	for _, section := range sections {
		for _, mod := range section.Modules {
			handler, ok := moduleHandlers[mod.ModName]
			if !ok {
				logger.Debug("skipping unsupported module type", logger.Fields{
					"course": course.ID, "module": mod.ID, "type": mod.ModName,
				})
				continue
			}
			out = append(out, handler(listingContext{
				course:       course,
				section:      section,
				foldersAsZip: c.foldersAsZip,
				baseURL:      c.base.String(),
			}, mod)...)
		}
	}
	return out, nil
}

// fingerprint derives the change-detection value for one content entry. The
// platform's content hash is authoritative when present; otherwise size and
// modification time stand in for it.
func fingerprint(c contentPayload) string {
	if c.ContentHash != "" {
		return c.ContentHash
	}
	return fmt.Sprintf("%d|%d", c.Filesize, c.TimeModified)
}

// fileModules maps a single-file resource module to descriptors.
func fileModules(ctx listingContext, mod modulePayload) []model.FileDescriptor {
	out := make([]model.FileDescriptor, 0, len(mod.Contents))
	for _, content := range mod.Contents {
		if content.Type != "file" || content.FileURL == "" {
			continue
		}
		out = append(out, model.FileDescriptor{
			Identity: model.Identity{
				CourseID:   ctx.course.ID,
				ModuleID:   mod.ID,
				ContentURL: content.FileURL,
			},
			Name:        content.Filename,
			TargetPath:  fsutil.JoinCoursePath(ctx.course.DirName(), ctx.section.Name, content.Filename),
			Size:        content.Filesize,
			Fingerprint: fingerprint(content),
			Kind:        model.ResolutionDirect,
			ModuleType:  mod.ModName,
		})
	}
	return out
}

// folderModules maps a folder module: its files keep their internal folder
// structure under a directory named after the module. With zip export
// enabled, the whole folder is one archive descriptor that gets unpacked
// after download.
func folderModules(ctx listingContext, mod modulePayload) []model.FileDescriptor {
	if ctx.foldersAsZip {
		return folderZip(ctx, mod)
	}
	out := make([]model.FileDescriptor, 0, len(mod.Contents))
	for _, content := range mod.Contents {
		if content.Type != "file" || content.FileURL == "" {
			continue
		}
		out = append(out, model.FileDescriptor{
			Identity: model.Identity{
				CourseID:   ctx.course.ID,
				ModuleID:   mod.ID,
				ContentURL: content.FileURL,
			},
			Name:        content.Filename,
			TargetPath:  fsutil.JoinCoursePath(ctx.course.DirName(), ctx.section.Name, mod.Name, content.Filepath, content.Filename),
			Size:        content.Filesize,
			Fingerprint: fingerprint(content),
			Kind:        model.ResolutionDirect,
			ModuleType:  mod.ModName,
		})
	}
	return out
}

// folderZip maps a folder module to its single zip-export descriptor. The
// fingerprint folds in every file so any change inside the folder refetches
// the export.
func folderZip(ctx listingContext, mod modulePayload) []model.FileDescriptor {
	var totalSize int64
	var latest int64
	var files int
	for _, content := range mod.Contents {
		if content.Type != "file" {
			continue
		}
		files++
		totalSize += content.Filesize
		if content.TimeModified > latest {
			latest = content.TimeModified
		}
	}
	if files == 0 {
		return nil
	}
	return []model.FileDescriptor{{
		Identity: model.Identity{
			CourseID:   ctx.course.ID,
			ModuleID:   mod.ID,
			ContentURL: fmt.Sprintf("%s/mod/folder/download_folder.php?id=%d", ctx.baseURL, mod.ID),
		},
		Name:        mod.Name + ".zip",
		TargetPath:  fsutil.JoinCoursePath(ctx.course.DirName(), ctx.section.Name, mod.Name+".zip"),
		Size:        totalSize,
		Fingerprint: fmt.Sprintf("zip|%d|%d|%d", files, totalSize, latest),
		Kind:        model.ResolutionDirect,
		ModuleType:  mod.ModName,
		Unpack:      true,
	}}
}

// urlModule maps a link module to a shortcut-file descriptor. The target is
// the external URL itself; the orchestrator writes a shortcut file instead
// of fetching it.
func urlModule(ctx listingContext, mod modulePayload) []model.FileDescriptor {
	var target string
	for _, content := range mod.Contents {
		if content.Type == "url" && content.FileURL != "" {
			target = content.FileURL
			break
		}
	}
	if target == "" {
		return nil
	}
	return []model.FileDescriptor{{
		Identity: model.Identity{
			CourseID:   ctx.course.ID,
			ModuleID:   mod.ID,
			ContentURL: target,
		},
		Name:        mod.Name + ".url",
		TargetPath:  fsutil.JoinCoursePath(ctx.course.DirName(), ctx.section.Name, mod.Name+".url"),
		Fingerprint: target,
		Kind:        model.ResolutionDirect,
		ModuleType:  mod.ModName,
	}}
}

// videoModule maps an embedded-video module to an indirect descriptor; its
// view URL goes through the resolver before anything can be fetched.
func videoModule(ctx listingContext, mod modulePayload) []model.FileDescriptor {
	if mod.URL == "" {
		return nil
	}
	return []model.FileDescriptor{{
		Identity: model.Identity{
			CourseID:   ctx.course.ID,
			ModuleID:   mod.ID,
			ContentURL: mod.URL,
		},
		Name:        mod.Name + ".mp4",
		TargetPath:  fsutil.JoinCoursePath(ctx.course.DirName(), ctx.section.Name, mod.Name+".mp4"),
		Fingerprint: mod.URL,
		Kind:        model.ResolutionIndirect,
		ModuleType:  mod.ModName,
	}}
}
