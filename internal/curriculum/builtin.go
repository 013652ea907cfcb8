package curriculum

import "studycal/internal/model"

// Default returns a fresh Store holding the built-in data-analyst curriculum.
func Default() *Store {
	return New(builtin())
}

func builtin() []model.CurriculumEntry {
	return []model.CurriculumEntry{
		{
			ID:         "sql",
			Name:       "SQL & Databases",
			Priority:   model.PriorityCritical,
			TotalHours: 35,
			Topics: []model.Topic{
				{Name: "SQL Basics (SELECT, WHERE, ORDER BY)", Hours: 4},
				{Name: "JOINs (INNER, LEFT, RIGHT, FULL)", Hours: 5},
				{Name: "Aggregations (GROUP BY, HAVING, COUNT, SUM, AVG)", Hours: 5},
				{Name: "Subqueries and CTEs", Hours: 6},
				{Name: "Window Functions (ROW_NUMBER, RANK, PARTITION BY)", Hours: 8},
				{Name: "Query Optimization", Hours: 4},
				{Name: "Practice Problems (LeetCode/HackerRank)", Hours: 3},
			},
			WhyImportant: "Most requested skill in data analyst jobs. Used daily for data extraction.",
		},
		{
			ID:         "python",
			Name:       "Python for Data Analysis",
			Priority:   model.PriorityCritical,
			TotalHours: 40,
			Topics: []model.Topic{
				{Name: "Python Fundamentals Review", Hours: 4},
				{Name: "Pandas: DataFrames, Series, Reading Data", Hours: 8},
				{Name: "Data Cleaning (handling nulls, duplicates, types)", Hours: 7},
				{Name: "Data Transformation (merge, groupby, pivot)", Hours: 8},
				{Name: "NumPy for Numerical Operations", Hours: 4},
				{Name: "Matplotlib & Seaborn Visualization", Hours: 6},
				{Name: "Working with APIs and JSON", Hours: 3},
			},
			WhyImportant: "Core tool for data manipulation and analysis.",
		},
		{
			ID:         "powerbi",
			Name:       "Power BI / Tableau",
			Priority:   model.PriorityCritical,
			TotalHours: 30,
			Topics: []model.Topic{
				{Name: "Power BI Desktop Basics", Hours: 4},
				{Name: "Data Modeling and Relationships", Hours: 6},
				{Name: "DAX Fundamentals (Calculated Columns, Measures)", Hours: 8},
				{Name: "Creating Visualizations", Hours: 5},
				{Name: "Building Interactive Dashboards", Hours: 5},
				{Name: "Publishing and Sharing Reports", Hours: 2},
			},
			WhyImportant: "Data visualization is key to communicating insights.",
		},
		{
			ID:         "statistics",
			Name:       "Statistics & Probability",
			Priority:   model.PriorityHigh,
			TotalHours: 25,
			Topics: []model.Topic{
				{Name: "Descriptive Statistics (mean, median, std dev)", Hours: 4},
				{Name: "Probability Distributions", Hours: 5},
				{Name: "Hypothesis Testing (t-tests, chi-square)", Hours: 6},
				{Name: "Correlation and Regression", Hours: 5},
				{Name: "A/B Testing Fundamentals", Hours: 5},
			},
			WhyImportant: "Foundation for making data-driven decisions and interpreting results.",
		},
		{
			ID:         "excel",
			Name:       "Advanced Excel",
			Priority:   model.PriorityMedium,
			TotalHours: 15,
			Topics: []model.Topic{
				{Name: "Advanced Formulas (VLOOKUP, INDEX-MATCH, SUMIFS)", Hours: 4},
				{Name: "Pivot Tables and Pivot Charts", Hours: 4},
				{Name: "Power Query Basics", Hours: 4},
				{Name: "Building Excel Dashboards", Hours: 3},
			},
			WhyImportant: "Still widely used in many companies.",
		},
		{
			ID:         "projects",
			Name:       "Portfolio Projects",
			Priority:   model.PriorityCritical,
			TotalHours: 40,
			Topics: []model.Topic{
				{Name: "Project 1: Sales Analytics Dashboard (SQL + Power BI)", Hours: 12},
				{Name: "Project 2: Customer Segmentation Analysis (Python)", Hours: 10},
				{Name: "Project 3: A/B Test Analysis (Python + Statistics)", Hours: 10},
				{Name: "Portfolio Website Setup", Hours: 5},
				{Name: "Resume & LinkedIn Optimization", Hours: 3},
			},
			WhyImportant: "Demonstrates practical skills for interviews and applications.",
		},
		{
			ID:         "interview_prep",
			Name:       "Interview Preparation",
			Priority:   model.PriorityHigh,
			TotalHours: 15,
			Topics: []model.Topic{
				{Name: "SQL Interview Questions Practice", Hours: 5},
				{Name: "Case Study Practice", Hours: 5},
				{Name: "Behavioral Interview Prep", Hours: 3},
				{Name: "Mock Interviews", Hours: 2},
			},
			WhyImportant: "Bridge between skills and job offers.",
		},
	}
}
